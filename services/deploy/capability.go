// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/Shipyard/services/release"
	"github.com/AleutianAI/Shipyard/services/release/remote"
)

// ErrCapabilityMismatch is returned when a target declares a capability
// it does not implement.
var ErrCapabilityMismatch = errors.New("target capability mismatch")

// Capability is a set of optional deploy steps a target implements.
type Capability uint8

const (
	// CapBuild: the target builds locally before any host is touched.
	CapBuild Capability = 1 << iota

	// CapPrepare: the target runs a step on the host right after the new
	// release directory exists.
	CapPrepare

	// CapSync: the target populates the release directory.
	CapSync

	// CapFinalize: the target runs a step after sync, before current is
	// switched. Only runs when CapSync is also declared.
	CapFinalize
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapBuild, "build"},
	{CapPrepare, "prepare"},
	{CapSync, "sync"},
	{CapFinalize, "finalize"},
}

// Has reports whether every capability in want is in c.
func (c Capability) Has(want Capability) bool { return c&want == want }

// String lists the capabilities, e.g. "build|sync".
func (c Capability) String() string {
	var names []string
	for _, cn := range capabilityNames {
		if c.Has(cn.c) {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// HostContext is what host-side steps receive.
type HostContext struct {
	Host    Host
	Exec    remote.Executor
	Release *release.Release
}

// Target is a deployable project. It declares its optional steps with
// Capabilities and implements the matching interfaces below.
type Target interface {
	Name() string
	Capabilities() Capability
}

// Builder builds the project locally.
type Builder interface {
	Build(ctx context.Context) error
}

// Preparer runs on the host after the release directory is created.
type Preparer interface {
	Prepare(ctx context.Context, hc HostContext) error
}

// Syncer fills the release directory.
type Syncer interface {
	Sync(ctx context.Context, hc HostContext) error
}

// Finalizer runs on the host after a successful sync, before current
// moves to the new release.
type Finalizer interface {
	Finalize(ctx context.Context, hc HostContext) error
}

// CheckCapabilities verifies t implements every interface its declared
// capabilities require.
func CheckCapabilities(t Target) error {
	caps := t.Capabilities()
	var missing []string
	if caps.Has(CapBuild) {
		if _, ok := t.(Builder); !ok {
			missing = append(missing, "Builder")
		}
	}
	if caps.Has(CapPrepare) {
		if _, ok := t.(Preparer); !ok {
			missing = append(missing, "Preparer")
		}
	}
	if caps.Has(CapSync) {
		if _, ok := t.(Syncer); !ok {
			missing = append(missing, "Syncer")
		}
	}
	if caps.Has(CapFinalize) {
		if _, ok := t.(Finalizer); !ok {
			missing = append(missing, "Finalizer")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s declares %s but does not implement %s",
			ErrCapabilityMismatch, t.Name(), caps, strings.Join(missing, ", "))
	}
	return nil
}
