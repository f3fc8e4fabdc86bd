// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remotetest provides an in-memory remote.Executor for tests.
//
// FS parses and runs command lines with the mvdan.cc/sh interpreter. The
// external commands the release layer emits (mkdir, rm, ln, mv, readlink,
// find, cat, rsync), redirects and file tests operate on an in-memory tree
// of directories, files and symlinks. Any other external command exits
// 127.
//
// Failures are injected with FailOn: every command line containing the
// substring exits 1 without touching the tree.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/Shipyard/services/release/remote"
)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindLink
)

type node struct {
	kind    nodeKind
	target  string
	content string
}

// FS is an in-memory filesystem that behaves like a remote shell.
//
// # Thread Safety
//
// Safe for concurrent use.
type FS struct {
	mu       sync.Mutex
	host     string
	nodes    map[string]*node
	commands []string
	failures []string
}

// New creates an FS containing only "/".
func New(host string) *FS {
	return &FS{
		host:  host,
		nodes: map[string]*node{"/": {kind: kindDir}},
	}
}

// Host returns the host name given to New.
func (f *FS) Host() string { return f.host }

// FailOn makes every command containing substr exit 1.
func (f *FS) FailOn(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, substr)
}

// ClearFailures removes all injected failures.
func (f *FS) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = nil
}

// Commands returns every command line received, in order.
func (f *FS) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

// Run interprets command against the tree.
func (f *FS) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", remote.NewCommandError(f.host, command, -1, "", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	for _, substr := range f.failures {
		if strings.Contains(command, substr) {
			return "", remote.NewCommandError(f.host, command, 1, "injected failure", errors.New("exit status 1"))
		}
	}

	var stdout, stderr strings.Builder
	status, err := f.interpret(ctx, command, &stdout, &stderr)
	if err != nil {
		return "", remote.NewCommandError(f.host, command, -1, "", err)
	}
	if status != 0 {
		return stdout.String(), remote.NewCommandError(f.host, command, status, stderr.String(), fmt.Errorf("exit status %d", status))
	}
	return stdout.String(), nil
}

// ============================================================================
// Seeding and inspection
// ============================================================================

// MkdirAll creates each path and its parents.
func (f *FS) MkdirAll(paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		if err := f.mkdirAll(path.Clean(p)); err != nil {
			panic(err)
		}
	}
}

// WriteFile creates or replaces a file, creating parents.
func (f *FS) WriteFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = path.Clean(p)
	if err := f.mkdirAll(path.Dir(p)); err != nil {
		panic(err)
	}
	if err := f.writeFile(p, content); err != nil {
		panic(err)
	}
}

// Symlink creates link pointing at target, creating link's parents.
func (f *FS) Symlink(target, link string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link = path.Clean(link)
	if err := f.mkdirAll(path.Dir(link)); err != nil {
		panic(err)
	}
	f.nodes[f.entryKey(link)] = &node{kind: kindLink, target: target}
}

// Exists reports whether p exists without following a final symlink.
func (f *FS) Exists(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[f.entryKey(path.Clean(p))]
	return ok
}

// IsDir reports whether p resolves to a directory.
func (f *FS) IsDir(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := f.lookup(path.Clean(p), true)
	return n != nil && n.kind == kindDir
}

// IsSymlink reports whether p is a symlink.
func (f *FS) IsSymlink(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := f.lookup(path.Clean(p), false)
	return n != nil && n.kind == kindLink
}

// ReadLink returns the raw target of the symlink at p.
func (f *FS) ReadLink(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := f.lookup(path.Clean(p), false)
	if n == nil || n.kind != kindLink {
		return "", false
	}
	return n.target, true
}

// ReadFile returns the content of the file p resolves to.
func (f *FS) ReadFile(p string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := f.lookup(path.Clean(p), true)
	if n == nil || n.kind != kindFile {
		return "", false
	}
	return n.content, true
}

// Resolve returns the real path p points at after following symlinks.
func (f *FS) Resolve(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	real, _ := f.resolve(path.Clean(p), true, 0)
	return real
}

// Children returns the sorted names of every entry directly inside dir.
func (f *FS) Children(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	real, _ := f.resolve(path.Clean(dir), true, 0)
	return f.children(real)
}

// Snapshot returns a sorted description of the whole tree, for comparing
// states before and after an operation.
func (f *FS) Snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.nodes))
	for p, n := range f.nodes {
		switch n.kind {
		case kindDir:
			out = append(out, strings.TrimSuffix(p, "/")+"/")
		case kindLink:
			out = append(out, p+" -> "+n.target)
		default:
			out = append(out, p+" = "+n.content)
		}
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// Tree primitives (callers hold f.mu)
// ============================================================================

var errLoop = errors.New("too many levels of symbolic links")

// resolve maps p to its real path. Missing components are appended
// lexically.
func (f *FS) resolve(p string, followLast bool, depth int) (string, error) {
	if depth > 40 {
		return "", errLoop
	}
	parts := strings.Split(strings.TrimPrefix(path.Clean(p), "/"), "/")
	cur := "/"
	for i, part := range parts {
		if part == "" {
			continue
		}
		next := path.Join(cur, part)
		n, ok := f.nodes[next]
		if !ok {
			return path.Join(append([]string{next}, parts[i+1:]...)...), nil
		}
		last := i == len(parts)-1
		if n.kind == kindLink && (!last || followLast) {
			target := n.target
			if !path.IsAbs(target) {
				target = path.Join(cur, target)
			}
			real, err := f.resolve(target, true, depth+1)
			if err != nil {
				return "", err
			}
			cur = real
			continue
		}
		cur = next
	}
	return cur, nil
}

func (f *FS) lookup(p string, follow bool) (*node, string) {
	real, err := f.resolve(p, follow, 0)
	if err != nil {
		return nil, ""
	}
	return f.nodes[real], real
}

// entryKey is the key of the directory entry named by p: the parent is
// resolved, the final component is not.
func (f *FS) entryKey(p string) string {
	if p == "/" {
		return "/"
	}
	parent, err := f.resolve(path.Dir(p), true, 0)
	if err != nil {
		return p
	}
	return path.Join(parent, path.Base(p))
}

func (f *FS) children(dir string) []string {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var names []string
	for p := range f.nodes {
		if p == "/" || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names
}

func (f *FS) mkdirAll(p string) error {
	n, _ := f.lookup(p, true)
	if n != nil {
		if n.kind != kindDir {
			return fmt.Errorf("mkdir: %s: File exists", p)
		}
		return nil
	}
	if err := f.mkdirAll(path.Dir(p)); err != nil {
		return err
	}
	real, err := f.resolve(p, true, 0)
	if err != nil {
		return err
	}
	f.nodes[real] = &node{kind: kindDir}
	return nil
}

func (f *FS) mkdir(p string) error {
	key := f.entryKey(p)
	if _, ok := f.nodes[key]; ok {
		return fmt.Errorf("mkdir: %s: File exists", p)
	}
	parent, _ := f.lookup(path.Dir(p), true)
	if parent == nil || parent.kind != kindDir {
		return fmt.Errorf("mkdir: %s: No such file or directory", p)
	}
	f.nodes[key] = &node{kind: kindDir}
	return nil
}

func (f *FS) writeFile(p, content string) error {
	key := f.entryKey(p)
	if n, ok := f.nodes[key]; ok && n.kind == kindDir {
		return fmt.Errorf("%s: Is a directory", p)
	}
	parent, _ := f.lookup(path.Dir(p), true)
	if parent == nil || parent.kind != kindDir {
		return fmt.Errorf("%s: No such file or directory", p)
	}
	f.nodes[key] = &node{kind: kindFile, content: content}
	return nil
}

func (f *FS) removeTree(key string) {
	delete(f.nodes, key)
	prefix := key + "/"
	for p := range f.nodes {
		if strings.HasPrefix(p, prefix) {
			delete(f.nodes, p)
		}
	}
}

func (f *FS) moveTree(from, to string) {
	moved := map[string]*node{}
	prefix := from + "/"
	for p, n := range f.nodes {
		if p == from {
			moved[to] = n
		} else if strings.HasPrefix(p, prefix) {
			moved[to+"/"+p[len(prefix):]] = n
		}
	}
	f.removeTree(from)
	for p, n := range moved {
		f.nodes[p] = n
	}
}

func (f *FS) copyTree(from, to string) {
	prefix := from + "/"
	var paths []string
	for p := range f.nodes {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		dst := to + "/" + p[len(prefix):]
		clone := *f.nodes[p]
		if existing, ok := f.nodes[dst]; ok && existing.kind == kindDir && clone.kind == kindDir {
			continue
		}
		f.nodes[dst] = &clone
	}
}

var _ remote.Executor = (*FS)(nil)
