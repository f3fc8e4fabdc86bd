// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remotetest

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ============================================================================
// Interpreter wiring
// ============================================================================

// interpret parses command and runs it with mvdan.cc/sh. Builtins (test,
// printf, echo, true, false) run inside the interpreter; every other
// command, every redirect and every stat is routed to the tree. Nothing
// touches the real filesystem. Callers hold f.mu.
func (f *FS) interpret(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		io.WriteString(stderr, err.Error()+"\n")
		return 2, nil
	}

	runner, err := interp.New(
		interp.Dir("/"),
		interp.StdIO(nil, stdout, stderr),
		interp.ExecHandlers(f.execHandler),
		interp.OpenHandler(f.open),
		interp.StatHandler(f.stat),
	)
	if err != nil {
		return -1, err
	}

	if err := runner.Run(ctx, prog); err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return int(status), nil
		}
		io.WriteString(stderr, err.Error()+"\n")
		return 1, nil
	}
	return 0, nil
}

func (f *FS) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		sh := &shell{fs: f, cwd: hc.Dir}
		status, out, errText := sh.exec(args)
		io.WriteString(hc.Stdout, out)
		if errText != "" {
			io.WriteString(hc.Stderr, errText+"\n")
		}
		if status != 0 {
			return interp.NewExitStatus(uint8(status))
		}
		return nil
	}
}

// open serves redirects. Writes go through symlinks to the real file.
func (f *FS) open(_ context.Context, name string, flag int, _ os.FileMode) (io.ReadWriteCloser, error) {
	if name == "/dev/null" {
		return devNull{}, nil
	}
	p := absPath(name)

	if flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		n, _ := f.lookup(p, true)
		if n == nil || n.kind != kindFile {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return &handle{reader: strings.NewReader(n.content)}, nil
	}

	real, err := f.resolve(p, true, 0)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	content := ""
	if n, ok := f.nodes[real]; ok && n.kind == kindFile && flag&os.O_APPEND != 0 {
		content = n.content
	}
	if err := f.writeFile(real, content); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &handle{fs: f, key: real}, nil
}

func (f *FS) stat(_ context.Context, name string, followSymlinks bool) (fs.FileInfo, error) {
	n, _ := f.lookup(absPath(name), followSymlinks)
	if n == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fileInfo{name: path.Base(name), node: n}, nil
}

func absPath(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join("/", p)
}

// handle is an open file of the tree.
type handle struct {
	fs     *FS
	key    string
	reader *strings.Reader
}

func (h *handle) Read(p []byte) (int, error) {
	if h.reader == nil {
		return 0, io.EOF
	}
	return h.reader.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	if n, ok := h.fs.nodes[h.key]; ok && n.kind == kindFile {
		n.content += string(p)
	}
	return len(p), nil
}

func (h *handle) Close() error { return nil }

type devNull struct{}

func (devNull) Read([]byte) (int, error)    { return 0, io.EOF }
func (devNull) Write(p []byte) (int, error) { return len(p), nil }
func (devNull) Close() error                { return nil }

type fileInfo struct {
	name string
	node *node
}

func (i fileInfo) Name() string       { return i.name }
func (i fileInfo) Size() int64        { return int64(len(i.node.content)) }
func (i fileInfo) ModTime() time.Time { return time.Time{} }
func (i fileInfo) IsDir() bool        { return i.node.kind == kindDir }
func (i fileInfo) Sys() any           { return nil }

func (i fileInfo) Mode() fs.FileMode {
	switch i.node.kind {
	case kindDir:
		return fs.ModeDir | 0o755
	case kindLink:
		return fs.ModeSymlink | 0o777
	default:
		return 0o644
	}
}

// ============================================================================
// Commands
// ============================================================================

// shell runs the external commands of one command line.
type shell struct {
	fs  *FS
	cwd string
}

func (s *shell) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

// splitFlags separates leading "-xyz" arguments into a flag set.
func splitFlags(args []string) (map[byte]bool, []string) {
	flags := map[byte]bool{}
	i := 0
	for ; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			i++
			break
		}
		if len(a) < 2 || a[0] != '-' {
			break
		}
		for j := 1; j < len(a); j++ {
			flags[a[j]] = true
		}
	}
	return flags, args[i:]
}

// exec runs one external command and returns status, stdout and stderr.
func (s *shell) exec(words []string) (int, string, string) {
	f := s.fs
	name, args := words[0], words[1:]

	switch name {
	case "mkdir":
		flags, paths := splitFlags(args)
		for _, p := range paths {
			var err error
			if flags['p'] {
				err = f.mkdirAll(s.abs(p))
			} else {
				err = f.mkdir(s.abs(p))
			}
			if err != nil {
				return 1, "", err.Error()
			}
		}
		return 0, "", ""

	case "rm":
		flags, paths := splitFlags(args)
		recursive := flags['r'] || flags['R']
		for _, p := range paths {
			abs := s.abs(p)
			if abs == "/" {
				return 1, "", "rm: refusing to remove '/'"
			}
			key := f.entryKey(abs)
			n, ok := f.nodes[key]
			if !ok {
				if flags['f'] {
					continue
				}
				return 1, "", "rm: cannot remove '" + p + "': No such file or directory"
			}
			if n.kind == kindDir && !recursive {
				return 1, "", "rm: cannot remove '" + p + "': Is a directory"
			}
			f.removeTree(key)
		}
		return 0, "", ""

	case "ln":
		flags, rest := splitFlags(args)
		if !flags['s'] {
			return 1, "", "ln: hard links are not supported"
		}
		if len(rest) != 2 {
			return 1, "", "ln: expected target and link name"
		}
		target, link := rest[0], s.abs(rest[1])
		key := f.entryKey(link)
		if existing, ok := f.nodes[key]; ok {
			intoDir := existing.kind == kindDir
			if existing.kind == kindLink && !flags['n'] {
				resolved, _ := f.lookup(link, true)
				intoDir = resolved != nil && resolved.kind == kindDir
			}
			if intoDir {
				real, _ := f.resolve(link, true, 0)
				key = path.Join(real, path.Base(target))
			}
			if existing, ok := f.nodes[key]; ok {
				if !flags['f'] {
					return 1, "", "ln: " + rest[1] + ": File exists"
				}
				if existing.kind == kindDir {
					return 1, "", "ln: " + rest[1] + ": cannot overwrite directory"
				}
				delete(f.nodes, key)
			}
		}
		parent, _ := f.lookup(path.Dir(key), true)
		if parent == nil || parent.kind != kindDir {
			return 1, "", "ln: " + rest[1] + ": No such file or directory"
		}
		f.nodes[key] = &node{kind: kindLink, target: target}
		return 0, "", ""

	case "mv":
		flags, rest := splitFlags(args)
		if len(rest) != 2 {
			return 1, "", "mv: expected source and destination"
		}
		from := f.entryKey(s.abs(rest[0]))
		if _, ok := f.nodes[from]; !ok {
			return 1, "", "mv: cannot stat '" + rest[0] + "': No such file or directory"
		}
		to := f.entryKey(s.abs(rest[1]))
		if !flags['T'] {
			if n, real := f.lookup(s.abs(rest[1]), true); n != nil && n.kind == kindDir {
				to = path.Join(real, path.Base(from))
			}
		}
		if existing, ok := f.nodes[to]; ok {
			if existing.kind == kindDir && len(f.children(to)) > 0 {
				return 1, "", "mv: cannot overwrite '" + rest[1] + "': Directory not empty"
			}
			f.removeTree(to)
		}
		f.moveTree(from, to)
		return 0, "", ""

	case "readlink":
		_, rest := splitFlags(args)
		if len(rest) != 1 {
			return 1, "", "readlink: expected one path"
		}
		n, _ := f.lookup(s.abs(rest[0]), false)
		if n == nil || n.kind != kindLink {
			return 1, "", ""
		}
		return 0, n.target + "\n", ""

	case "find":
		if len(args) == 0 {
			return 1, "", "find: missing path"
		}
		base := args[0]
		if !slices.Equal(args[1:], []string{"-mindepth", "1", "-maxdepth", "1", "-type", "d"}) {
			return 1, "", "find: unsupported expression"
		}
		n, real := f.lookup(s.abs(base), true)
		if n == nil || n.kind != kindDir {
			return 1, "", "find: '" + base + "': No such file or directory"
		}
		var out strings.Builder
		for _, name := range f.children(real) {
			if f.nodes[path.Join(real, name)].kind == kindDir {
				out.WriteString(strings.TrimSuffix(base, "/") + "/" + name + "\n")
			}
		}
		return 0, out.String(), ""

	case "cat":
		var out strings.Builder
		for _, p := range args {
			n, _ := f.lookup(s.abs(p), true)
			if n == nil || n.kind != kindFile {
				return 1, out.String(), "cat: " + p + ": No such file or directory"
			}
			out.WriteString(n.content)
		}
		return 0, out.String(), ""

	case "rsync":
		_, rest := splitFlags(args)
		if len(rest) != 2 {
			return 1, "", "rsync: expected source and destination"
		}
		src, real := f.lookup(s.abs(rest[0]), true)
		if src == nil || src.kind != kindDir {
			return 23, "", "rsync: change_dir " + rest[0] + " failed: No such file or directory"
		}
		dst := s.abs(rest[1])
		if err := f.mkdir(dst); err != nil {
			if n, _ := f.lookup(dst, true); n == nil || n.kind != kindDir {
				return 11, "", "rsync: mkdir " + rest[1] + " failed"
			}
		}
		_, dstReal := f.lookup(dst, true)
		f.copyTree(real, dstReal)
		return 0, "", ""
	}

	return 127, "", name + ": command not found"
}
