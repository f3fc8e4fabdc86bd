// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPort is appended to addresses without a port.
const DefaultSSHPort = "22"

// SSHOptions configures SSH connections.
type SSHOptions struct {
	// User is the login user.
	User string

	// KeyFile is a path to a private key. Optional when UseAgent is set.
	KeyFile string

	// KnownHosts lists known_hosts files used to verify host keys.
	KnownHosts []string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// UseAgent authenticates through the agent at SSH_AUTH_SOCK.
	UseAgent bool

	// Timeout bounds each TCP dial.
	// Default: 10s
	Timeout time.Duration

	// DialRetries is the number of extra dial attempts.
	// Default: 0
	DialRetries int
}

// SSH runs commands over an SSH connection, one session per command.
type SSH struct {
	name   string
	client *ssh.Client
	logger *slog.Logger

	// agent is the SSH_AUTH_SOCK connection, nil without UseAgent.
	agent net.Conn
}

// DialSSH connects to address and returns an SSH executor.
//
// # Description
//
// Builds the client config from opts and dials with exponential backoff
// when DialRetries > 0. Authentication and host key errors are not
// retried.
//
// # Inputs
//
//   - ctx: Cancels pending retries.
//   - name: Host name for logs and errors.
//   - address: "host" or "host:port".
//   - opts: Authentication and dial options.
//   - logger: Receives debug lines. May be nil.
//
// # Outputs
//
//   - *SSH: Connected executor. Close it when done.
//   - error: Non-nil if the connection could not be established.
func DialSSH(ctx context.Context, name, address string, opts SSHOptions, logger *slog.Logger) (*SSH, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config, agentConn, err := clientConfig(opts)
	if err != nil {
		return nil, err
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultSSHPort)
	}

	var client *ssh.Client
	op := func() error {
		c, err := ssh.Dial("tcp", address, config)
		if err != nil {
			if isPermanentDialError(err) {
				return backoff.Permanent(err)
			}
			logger.Debug("ssh dial failed", slog.String("host", name), slog.String("error", err.Error()))
			return err
		}
		client = c
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(opts.DialRetries, 0)))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if agentConn != nil {
			_ = agentConn.Close()
		}
		return nil, fmt.Errorf("dial %s (%s): %w", name, address, err)
	}

	return &SSH{
		name:   name,
		client: client,
		logger: logger.With("host", name),
		agent:  agentConn,
	}, nil
}

// clientConfig builds the client config. The returned agent connection
// is non-nil when UseAgent is set and belongs to the caller.
func clientConfig(opts SSHOptions) (*ssh.ClientConfig, net.Conn, error) {
	var methods []ssh.AuthMethod

	if opts.KeyFile != "" {
		pem, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse key file %s: %w", opts.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 && !opts.UseAgent {
		return nil, nil, errors.New("no ssh authentication method configured (key_file or use_agent)")
	}

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, nil, err
	}

	var agentConn net.Conn
	if opts.UseAgent {
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, nil, errors.New("use_agent set but SSH_AUTH_SOCK is empty")
		}
		agentConn, err = net.Dial("unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
		}
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, agentConn, nil
}

func hostKeyCallback(opts SSHOptions) (ssh.HostKeyCallback, error) {
	if opts.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if len(opts.KnownHosts) == 0 {
		return nil, errors.New("no known_hosts file configured (set ssh.known_hosts or ssh.insecure_ignore_host_key)")
	}
	cb, err := knownhosts.New(opts.KnownHosts...)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func isPermanentDialError(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Host returns the executor name.
func (s *SSH) Host() string { return s.name }

// Run executes command in a new session and returns stdout.
//
// A cancelled ctx refuses to start the command. A command that has
// already started runs to completion.
func (s *SSH) Run(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", NewCommandError(s.name, command, -1, "", err)
	}
	s.logger.Debug("run", slog.String("command", command))

	session, err := s.client.NewSession()
	if err != nil {
		return "", NewCommandError(s.name, command, -1, "", fmt.Errorf("open session: %w", err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err = session.Run(command); err != nil {
		exitCode := -1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		}
		return stdout.String(), NewCommandError(s.name, command, exitCode, stderr.String(), err)
	}
	return stdout.String(), nil
}

// Close closes the connection and the agent socket.
func (s *SSH) Close() error {
	err := s.client.Close()
	if s.agent != nil {
		err = errors.Join(err, s.agent.Close())
	}
	return err
}

var (
	_ Executor = (*SSH)(nil)
	_ Closer   = (*SSH)(nil)
)
