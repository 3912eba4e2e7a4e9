// Copyright 2023 The CubeFS Authors.
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

package catalog

import (
	"context"
	"sync"
	"sync/atomic"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

// WriteJob mutates a working copy of the catalog and returns the
// result. A job must be non-blocking with respect to I/O and must not
// take any lock beyond very short ones, or it will delay every other
// queued writer.
type WriteJob func(v *Version) (*Version, error)

type writeRequest struct {
	job      WriteJob
	resultCh chan error
}

// publisher is component C3. It owns the single published-catalog
// pointer and serializes writers, batching whatever piled up behind
// the current writer onto one shared clone.
type publisher struct {
	published atomic.Pointer[Version]

	mu      sync.Mutex
	queue   []*writeRequest
	writing bool

	batchMu sync.Mutex
	batch   *BatchedWriter
}

func newPublisher(initial *Version) *publisher {
	p := &publisher{}
	p.published.Store(initial)
	return p
}

// latest returns the currently published version. It never blocks.
func (p *publisher) latest() *Version {
	return p.published.Load()
}

// write submits job to be applied under the writer serialization lock.
// Concurrent submissions arriving while a batch is being applied are
// queued and picked up by the goroutine applying that batch in its next
// round, where all of that round's jobs run on one shared clone in
// submission order; a job that returns an error has its own sub-clone
// discarded without affecting siblings in the same batch, and a round
// in which every job failed publishes nothing.
func (p *publisher) write(ctx context.Context, job WriteJob) error {
	req := &writeRequest{job: job, resultCh: make(chan error, 1)}

	p.mu.Lock()
	p.queue = append(p.queue, req)
	if p.writing {
		p.mu.Unlock()
	} else {
		p.writing = true
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		p.runBatch(batch)
	}

	select {
	case err := <-req.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBatch is executed by whichever goroutine happened to find the
// writer lock free. It keeps draining the queue until it observes an
// empty one under the lock, so it never leaves a request stranded.
func (p *publisher) runBatch(batch []*writeRequest) {
	for {
		writeBatchSize.Observe(float64(len(batch)))
		base := p.published.Load()
		working := base.clone()
		applied := false
		for _, req := range batch {
			sub := working.clone()
			result, err := req.job(sub)
			if err != nil {
				req.resultCh <- err
				continue
			}
			working = result
			applied = true
			req.resultCh <- nil
		}
		if applied {
			p.published.Store(working)
		}

		p.mu.Lock()
		if len(p.queue) == 0 {
			p.writing = false
			p.mu.Unlock()
			return
		}
		batch = p.queue
		p.queue = nil
		p.mu.Unlock()
	}
}

// BatchedWriter is the distinguished batched-writer mode: a single
// working clone stays in place across many direct mutations, avoiding
// repeated copy-on-write overhead for bulk DDL. It must be used under
// an external MODE_X lock; the publisher only asserts mutual exclusion
// against ordinary writers, it does not acquire that lock itself.
type BatchedWriter struct {
	p       *publisher
	working *Version
	cloned  map[*Collection]*Collection
}

// BeginBatchedWrite enters batched mode. It fails with ErrWriteConflict
// if a batch is already open; callers are expected to hold an
// exclusive global lock so this should never race in practice.
func (p *publisher) beginBatchedWrite() (*BatchedWriter, error) {
	p.mu.Lock()
	if p.writing {
		p.mu.Unlock()
		return nil, apierrors.ErrWriteConflict
	}
	p.writing = true
	p.mu.Unlock()

	return &BatchedWriter{
		p:       p,
		working: p.published.Load().clone(),
		cloned:  make(map[*Collection]*Collection),
	}, nil
}

// Apply runs f against the batch's shared working clone.
func (b *BatchedWriter) Apply(f func(v *Version) (*Version, error)) error {
	result, err := f(b.working)
	if err != nil {
		return err
	}
	b.working = result
	return nil
}

// cloneCollectionOnce returns a private clone of coll, reusing a prior
// clone made within this same batch if the caller already cloned this
// exact pointer (tracked by pointer identity, per the design's
// "requests inside batched mode that target a descriptor already
// cloned in the current batch skip re-cloning"). Both coll's original
// pointer and the clone itself are registered, so a later call that
// looks coll back up through working (and so receives the clone
// pointer rather than the original) still recognizes it as already
// cloned.
func (b *BatchedWriter) cloneCollectionOnce(coll *Collection) *Collection {
	if clone, ok := b.cloned[coll]; ok {
		return clone
	}
	clone := coll.Clone()
	b.cloned[coll] = clone
	b.cloned[clone] = clone
	return clone
}

// EditCollection returns this batch's working clone of id's committed
// descriptor for in-place metadata edits, installing it into the
// batch's working maps on first request. A second EditCollection call
// for the same id within this batch returns the identical clone
// pointer instead of cloning again.
func (b *BatchedWriter) EditCollection(id proto.UUID) (*Collection, error) {
	coll := b.working.lookupByUUID(id)
	if coll == nil {
		return nil, apierrors.ErrNamespaceNotFound
	}
	clone := b.cloneCollectionOnce(coll)
	if clone != coll {
		b.working = b.working.replaceCollection(clone)
	}
	return clone, nil
}

// Commit publishes the accumulated working clone as the new version
// and releases the writer lock, draining any writers that queued
// behind the batch while it was open.
func (b *BatchedWriter) Commit() {
	b.p.published.Store(b.working)
	b.release()
}

// Abort discards the working clone without publishing anything.
func (b *BatchedWriter) Abort() {
	b.release()
}

func (b *BatchedWriter) release() {
	b.p.mu.Lock()
	if len(b.p.queue) == 0 {
		b.p.writing = false
		b.p.mu.Unlock()
		return
	}
	batch := b.p.queue
	b.p.queue = nil
	b.p.mu.Unlock()
	b.p.runBatch(batch)
}
