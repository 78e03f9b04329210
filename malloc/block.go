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

// A block is identified by the address of its header word. All pointer
// casts between header, payload, footer and neighbors are kept in this
// file; the rest of the package traffics in header addresses.

func load(h unsafe.Pointer) uint64 { return *(*uint64)(h) }

func store(h unsafe.Pointer, w uint64) { *(*uint64)(h) = w }

// writeTag stores the header word and, for free regular blocks, mirrors
// it into the footer. Mini blocks and allocated blocks have no footer.
func writeTag(h unsafe.Pointer, w uint64) {
	store(h, w)
	if !tagAlloc(w) && tagSize(w) > miniBlockSize {
		store(unsafe.Add(h, tagSize(w)-wordSize), w)
	}
}

func blockSize(h unsafe.Pointer) int { return tagSize(load(h)) }

func payload(h unsafe.Pointer) unsafe.Pointer { return unsafe.Add(h, wordSize) }

func headerOf(p unsafe.Pointer) unsafe.Pointer { return unsafe.Add(p, -wordSize) }

// next returns the block whose header follows h in address order. For
// the tail block it yields the epilogue.
func next(h unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(h, blockSize(h))
}

// prev returns the predecessor of h. Only valid when h's prev-alloc bit
// is clear: an allocated predecessor carries no footer and cannot be
// located. A mini predecessor is found by the prev-mini shortcut, a
// regular one through its footer word.
func prev(h unsafe.Pointer) unsafe.Pointer {
	if tagPrevMini(load(h)) {
		return unsafe.Add(h, -miniBlockSize)
	}
	footer := load(unsafe.Add(h, -wordSize))
	return unsafe.Add(h, -tagSize(footer))
}

// setPrevFlags rewrites the prev-alloc/prev-mini bits of the block at h,
// propagating a state change of its predecessor. Goes through writeTag
// so a free successor keeps its footer coherent.
func setPrevFlags(h unsafe.Pointer, prevAlloc, prevMini bool) {
	writeTag(h, withPrevFlags(load(h), prevAlloc, prevMini))
}

// Free-list pointers live in-band: the first payload word of a free
// block is its list successor, the second (regular blocks only) its
// list predecessor.

func freeNext(h unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(payload(h))
}

func setFreeNext(h, p unsafe.Pointer) {
	*(*unsafe.Pointer)(payload(h)) = p
}

func freePrev(h unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Add(h, 2*wordSize))
}

func setFreePrev(h, p unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Add(h, 2*wordSize)) = p
}
