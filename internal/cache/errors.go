// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package cache

import (
	"fmt"

	"github.com/mbeaufort/opscache/internal/broadcast"
)

// FetchError reports that a remote read failed. It is the only error Get
// propagates: the requested data is not knowable right now, and cache state
// is unchanged. The cache does not retry; that choice belongs to the caller.
type FetchError struct {
	Key string
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

// Unwrap supports errors.Is/As.
func (e *FetchError) Unwrap() error { return e.Err }

// WriteError reports that a remote mutation was rejected. No local patch or
// broadcast happened: the local view never claims a mutation succeeded when
// the remote store refused it.
type WriteError struct {
	Key    string
	Action broadcast.Action
	Err    error
}

// Error implements error.
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.Key, e.Err)
}

// Unwrap supports errors.Is/As.
func (e *WriteError) Unwrap() error { return e.Err }
