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

	"github.com/stretchr/testify/assert"
)

func TestPackUnpack(t *testing.T) {
	tests := []struct {
		size                       int
		alloc, prevAlloc, prevMini bool
	}{
		{0, true, true, false},
		{16, false, false, false},
		{16, true, true, true},
		{32, false, true, false},
		{4096, true, false, true},
		{1 << 40, false, false, false},
	}
	for _, tt := range tests {
		w := pack(tt.size, tt.alloc, tt.prevAlloc, tt.prevMini)
		assert.Equal(t, tt.size, tagSize(w))
		assert.Equal(t, tt.alloc, tagAlloc(w))
		assert.Equal(t, tt.prevAlloc, tagPrevAlloc(w))
		assert.Equal(t, tt.prevMini, tagPrevMini(w))
	}
}

func TestPackRejectsMisalignedSize(t *testing.T) {
	for _, size := range []int{1, 8, 17, 33, 4095} {
		assert.Panics(t, func() { pack(size, false, false, false) }, "size=%d", size)
	}
}

func TestWithPrevFlags(t *testing.T) {
	w := pack(64, true, false, false)
	w = withPrevFlags(w, true, true)
	assert.Equal(t, 64, tagSize(w))
	assert.True(t, tagAlloc(w))
	assert.True(t, tagPrevAlloc(w))
	assert.True(t, tagPrevMini(w))

	w = withPrevFlags(w, false, false)
	assert.True(t, tagAlloc(w))
	assert.False(t, tagPrevAlloc(w))
	assert.False(t, tagPrevMini(w))
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		size, class int
	}{
		{16, 0},
		{32, 0},
		{48, 1},
		{64, 1},
		{80, 2},
		{128, 2},
		{144, 3},
		{4096, 7},
		{131072, 12},
		{131088, 13},
		{262144, 13},
		{262160, 14},
		{1 << 30, 14},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.class, classOf(tt.size), "size=%d", tt.size)
	}
}

func TestClassOfMonotone(t *testing.T) {
	prev := 0
	for size := miniBlockSize; size <= 1<<21; size += alignment {
		c := classOf(size)
		assert.GreaterOrEqual(t, c, prev, "size=%d", size)
		assert.Less(t, c, numClasses, "size=%d", size)
		prev = c
	}
}
