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

// coalesce merges the freed block at b with its free neighbors and
// returns the header of the merged block. b's alloc bit must already be
// clear and b must not be on any free list; the neighbors, if free, are
// unlinked here. The caller inserts the result.
//
// The epilogue and prologue read as allocated, so the heap ends need no
// special casing. The result's successor gets its prev flags rewritten;
// a merged block is at least 32 bytes, so prev-mini survives only in the
// no-merge case.
func (a *Allocator) coalesce(b unsafe.Pointer) unsafe.Pointer {
	w := load(b)
	nb := next(b)
	prevFree := !tagPrevAlloc(w)
	nextFree := !tagAlloc(load(nb))

	switch {
	case !prevFree && !nextFree:
		// neighbors allocated, nothing to merge
	case prevFree && !nextFree:
		p := prev(b)
		a.remove(p)
		pw := load(p)
		writeTag(p, pack(tagSize(pw)+tagSize(w), false, tagPrevAlloc(pw), tagPrevMini(pw)))
		b = p
	case !prevFree && nextFree:
		a.remove(nb)
		writeTag(b, pack(tagSize(w)+blockSize(nb), false, tagPrevAlloc(w), tagPrevMini(w)))
	default:
		p := prev(b)
		a.remove(p)
		a.remove(nb)
		pw := load(p)
		writeTag(p, pack(tagSize(pw)+tagSize(w)+blockSize(nb), false, tagPrevAlloc(pw), tagPrevMini(pw)))
		b = p
	}

	setPrevFlags(next(b), false, blockSize(b) == miniBlockSize)
	return b
}
