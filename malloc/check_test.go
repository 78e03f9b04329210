/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckUninitialized(t *testing.T) {
	var a Allocator
	assert.Error(t, a.Check())
}

func TestCheckDetectsHeaderStomp(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	p := a.Malloc(24)
	require.NotNil(t, p)

	h := headerOf(unsafe.Pointer(unsafe.SliceData(p)))
	saved := load(h)

	// size overstated: the block chain no longer lands on the epilogue
	store(h, saved+16)
	assert.Error(t, a.Check())

	// alloc bit cleared without going through Free: the successor's
	// prev-alloc cache now disagrees
	store(h, saved&^allocBit)
	assert.Error(t, a.Check())

	store(h, saved)
	require.NoError(t, a.Check())
}

func TestCheckDetectsFooterMismatch(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	p := a.Malloc(64)
	sep := a.Malloc(64)
	require.NotNil(t, sep)
	a.Free(p)
	require.NoError(t, a.Check())

	h := headerOf(unsafe.Pointer(unsafe.SliceData(p)))
	footer := unsafe.Add(h, blockSize(h)-wordSize)
	saved := load(footer)

	store(footer, saved^prevMiniBit)
	assert.Error(t, a.Check())

	store(footer, saved)
	require.NoError(t, a.Check())
}

func TestCheckDetectsListCorruption(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	p := a.Malloc(64)
	sep := a.Malloc(64)
	require.NotNil(t, sep)
	a.Free(p)
	require.NoError(t, a.Check())

	// detach the freed block from its class list: the heap walk still
	// sees a free block the lists no longer account for
	h := headerOf(unsafe.Pointer(unsafe.SliceData(p)))
	c := classOf(blockSize(h))
	saved := a.classes[c]
	a.classes[c] = freeNext(h)
	assert.Error(t, a.Check())

	a.classes[c] = saved
	require.NoError(t, a.Check())
}

func TestCheckDetectsMiniListCorruption(t *testing.T) {
	a := newTestAllocator(t, 1<<20)
	p := a.Malloc(8)
	sep := a.Malloc(8)
	require.NotNil(t, sep)
	a.Free(p)
	require.Equal(t, 1, a.miniCount())
	require.NoError(t, a.Check())

	saved := a.miniHead
	a.miniHead = nil
	assert.Error(t, a.Check())

	a.miniHead = saved
	require.NoError(t, a.Check())
}
