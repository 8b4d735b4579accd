// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Session deadlines, vault request timeouts and resolver probe bounds
// all take a Clock instead of calling time.Now, time.After or
// time.AfterFunc directly. In production, Real() provides the standard
// library behavior. In tests, Fake() provides a clock that advances
// only when Advance is called, so expiry and timeout paths run
// deterministically:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	manager := session.NewManager(session.Config{Clock: fakeClock})
//	id, _ := manager.Create(key, params)
//	fakeClock.Advance(params.TTL + time.Millisecond)
//
// Use WaitForTimers to block until a goroutine has registered its timer
// before advancing.
package clock
