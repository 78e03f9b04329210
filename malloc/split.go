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

import "unsafe"

// place marks the free block at b allocated for an aligned request of
// asize bytes, carving off the remainder when one fits. b must already
// be unlinked from its free list.
//
// All sizes are multiples of 16 and asize <= size(b), so the remainder
// is 0, exactly 16 (a mini block), or >= 32 (a regular block); no
// unrepresentable gap can occur.
func (a *Allocator) place(b unsafe.Pointer, asize int) {
	w := load(b)
	rem := tagSize(w) - asize

	switch {
	case rem >= minBlockSize:
		store(b, pack(asize, true, tagPrevAlloc(w), tagPrevMini(w)))
		r := next(b)
		writeTag(r, pack(rem, false, true, asize == miniBlockSize))
		a.insertRegular(r)
		setPrevFlags(next(r), false, false)
	case rem == miniBlockSize:
		store(b, pack(asize, true, tagPrevAlloc(w), tagPrevMini(w)))
		r := next(b)
		writeTag(r, pack(miniBlockSize, false, true, asize == miniBlockSize))
		a.insertMini(r)
		setPrevFlags(next(r), false, true)
	default:
		store(b, pack(tagSize(w), true, tagPrevAlloc(w), tagPrevMini(w)))
		setPrevFlags(next(b), true, tagSize(w) == miniBlockSize)
	}
}
