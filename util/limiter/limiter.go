// Copyright 2023 The Cuber Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package limiter provides a small atomic concurrency token bucket.
// The catalog's drop-pending reaper uses it to bound how many idents
// it sweeps at once, so a burst of drops doesn't spin up an unbounded
// number of weak-reference checks concurrently.
package limiter

import (
	"errors"
	"sync/atomic"
)

var ErrLimitExceeded = errors.New("limiter: concurrency limit exceeded")

// CountLimit is a concurrency limiter: Acquire fails once Running
// would exceed the configured limit, Release always succeeds.
type CountLimit interface {
	Running() int
	Acquire() error
	Release()
	SetLimit(limit uint32)
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns a limiter that admits at most n concurrent
// holders.
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
