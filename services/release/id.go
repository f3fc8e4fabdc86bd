// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package release

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

// GenerateID returns the release identifier for t: the ISO date in t's
// location and the seconds elapsed since that day's midnight, padded to
// five digits.
//
// Two identifiers from the same second collide; callers get an error from
// CreateRelease in that case.
func GenerateID(t time.Time) string {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return fmt.Sprintf("%s.%05d", t.Format(time.DateOnly), seconds)
}

// parseID splits an identifier into its date and seconds. Unpadded
// seconds ("2024-01-03.50") are accepted.
func parseID(id string) (string, int, bool) {
	date, secs, ok := strings.Cut(id, ".")
	if !ok {
		return "", 0, false
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(secs)
	if err != nil || n < 0 {
		return "", 0, false
	}
	return date, n, true
}

// lessID orders release names by deploy time. Names that are not
// identifiers sort before every identifier, by plain string comparison
// among themselves, so the newest entries are always real releases.
func lessID(a, b string) bool {
	da, sa, okA := parseID(a)
	db, sb, okB := parseID(b)
	switch {
	case !okA && !okB:
		return a < b
	case okA != okB:
		return !okA
	}
	if da != db {
		return da < db
	}
	if sa != sb {
		return sa < sb
	}
	return a < b
}

// SortIDs sorts release names oldest first.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

// validName rejects names that would escape the releases directory.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\x00")
}
