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

package pmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func lessInt(a, b int) bool { return a < b }

func TestMapPutIsCopyOnWrite(t *testing.T) {
	base := New[int, string](lessInt)
	next := base.Put(1, "a")

	require.Equal(t, 0, base.Len())
	require.Equal(t, 1, next.Len())

	_, ok := base.Get(1)
	require.False(t, ok)

	v, ok := next.Get(1)
	require.True(t, ok)
	require.Equal(t, "a", v)
}

func TestMapDeleteLeavesParentIntact(t *testing.T) {
	base := New[int, string](lessInt).Put(1, "a").Put(2, "b")
	next := base.Delete(1)

	require.Equal(t, 2, base.Len())
	require.Equal(t, 1, next.Len())

	_, ok := base.Get(1)
	require.True(t, ok)
	_, ok = next.Get(1)
	require.False(t, ok)
}

func TestMapAscendOrder(t *testing.T) {
	m := New[int, string](lessInt).Put(3, "c").Put(1, "a").Put(2, "b")

	var got []int
	m.Ascend(func(k int, _ string) bool {
		got = append(got, k)
		return true
	})
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestSetAddRemove(t *testing.T) {
	s := NewSet[int](lessInt)
	s2 := s.Add(5)

	require.False(t, s.Has(5))
	require.True(t, s2.Has(5))

	s3 := s2.Remove(5)
	require.True(t, s2.Has(5))
	require.False(t, s3.Has(5))
}
