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
	"context"
	"fmt"
	"log/slog"
)

// Connector opens an Executor for a named host. The deploy layer depends
// on this interface so tests can hand out fakes.
type Connector interface {
	Connect(ctx context.Context, name, address string) (Executor, error)
}

// Dialer is the production Connector: "local" maps to a Local executor,
// anything else is dialed over SSH.
type Dialer struct {
	SSH    SSHOptions
	Logger *slog.Logger
}

// Connect returns an Executor for the host.
func (d *Dialer) Connect(ctx context.Context, name, address string) (Executor, error) {
	switch address {
	case "":
		return nil, fmt.Errorf("%w: %s", ErrUnknownHost, name)
	case LocalAddress:
		return NewLocal(name, d.Logger), nil
	default:
		return DialSSH(ctx, name, address, d.SSH, d.Logger)
	}
}

// CloseExecutor closes ex if it holds a connection.
func CloseExecutor(ex Executor) error {
	if c, ok := ex.(Closer); ok {
		return c.Close()
	}
	return nil
}
