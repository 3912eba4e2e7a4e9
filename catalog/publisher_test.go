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
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/coldb/errors"
	"github.com/cubefs/coldb/proto"
)

func TestPublisherWritePublishesResult(t *testing.T) {
	p := newPublisher(emptyVersion())
	ns := proto.NewNamespace("db", "coll")
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident-1"), 1, proto.CollectionOptions{}, nil, 0)

	err := p.write(context.Background(), func(v *Version) (*Version, error) {
		return v.withCommitted(coll), nil
	})
	require.NoError(t, err)
	require.NotNil(t, p.latest().lookupByNamespace(ns))
}

func TestPublisherWriteErrorDoesNotMutatePublished(t *testing.T) {
	p := newPublisher(emptyVersion())
	before := p.latest()

	err := p.write(context.Background(), func(v *Version) (*Version, error) {
		return nil, apierrors.ErrNamespaceExists
	})
	require.ErrorIs(t, err, apierrors.ErrNamespaceExists)
	require.Same(t, before, p.latest())
}

func TestPublisherBatchesConcurrentWriters(t *testing.T) {
	p := newPublisher(emptyVersion())

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ns := proto.NewNamespace("db", string(rune('a'+i)))
			coll := NewCollection(proto.NewUUID(), ns, proto.Ident(ns.String()), proto.CatalogId(i), proto.CollectionOptions{}, nil, 0)
			err := p.write(context.Background(), func(v *Version) (*Version, error) {
				return v.withCommitted(coll), nil
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, n, p.latest().byUUID.Len())
}

func TestBatchedWriterCommit(t *testing.T) {
	p := newPublisher(emptyVersion())
	bw, err := p.beginBatchedWrite()
	require.NoError(t, err)

	ns := proto.NewNamespace("db", "coll")
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident"), 1, proto.CollectionOptions{}, nil, 0)
	require.NoError(t, bw.Apply(func(v *Version) (*Version, error) {
		return v.withCommitted(coll), nil
	}))
	bw.Commit()

	require.NotNil(t, p.latest().lookupByNamespace(ns))
}

func TestBatchedWriterAbortDiscardsChanges(t *testing.T) {
	p := newPublisher(emptyVersion())
	before := p.latest()
	bw, err := p.beginBatchedWrite()
	require.NoError(t, err)

	ns := proto.NewNamespace("db", "coll")
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident"), 1, proto.CollectionOptions{}, nil, 0)
	require.NoError(t, bw.Apply(func(v *Version) (*Version, error) {
		return v.withCommitted(coll), nil
	}))
	bw.Abort()

	require.Same(t, before, p.latest())
}

// TestBatchedWriterEditCollectionDedupesWithinBatch covers the
// batched-mode clone-reuse rule: a second EditCollection call for the
// same UUID within one batch returns the identical clone pointer
// produced by the first, rather than cloning again.
func TestBatchedWriterEditCollectionDedupesWithinBatch(t *testing.T) {
	p := newPublisher(emptyVersion())
	ns := proto.NewNamespace("db", "coll")
	id := proto.NewUUID()
	coll := NewCollection(id, ns, proto.Ident("ident"), 1, proto.CollectionOptions{}, nil, 0)
	require.NoError(t, p.write(context.Background(), func(v *Version) (*Version, error) {
		return v.withCommitted(coll), nil
	}))

	bw, err := p.beginBatchedWrite()
	require.NoError(t, err)

	first, err := bw.EditCollection(id)
	require.NoError(t, err)
	require.NotSame(t, coll, first)

	second, err := bw.EditCollection(id)
	require.NoError(t, err)
	require.Same(t, first, second)

	bw.Abort()
}

func TestBeginBatchedWriteConflictsWithOpenBatch(t *testing.T) {
	p := newPublisher(emptyVersion())
	bw, err := p.beginBatchedWrite()
	require.NoError(t, err)

	_, err = p.beginBatchedWrite()
	require.ErrorIs(t, err, apierrors.ErrWriteConflict)

	bw.Abort()
}

func TestBatchedWriterReleaseDrainsQueuedWriters(t *testing.T) {
	p := newPublisher(emptyVersion())
	bw, err := p.beginBatchedWrite()
	require.NoError(t, err)

	ns := proto.NewNamespace("db", "queued")
	coll := NewCollection(proto.NewUUID(), ns, proto.Ident("ident"), 1, proto.CollectionOptions{}, nil, 0)

	done := make(chan error, 1)
	go func() {
		done <- p.write(context.Background(), func(v *Version) (*Version, error) {
			return v.withCommitted(coll), nil
		})
	}()

	bw.Commit()
	require.NoError(t, <-done)
	require.NotNil(t, p.latest().lookupByNamespace(ns))
}
