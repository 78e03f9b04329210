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
	"math/bits"
	"unsafe"
)

const (
	// numClasses is the number of size-class buckets. Class 0 holds
	// blocks up to 32 bytes; each following class doubles the range,
	// the last one is open-ended (>= 262145).
	numClasses = 15

	// fitScanLimit bounds the best-fit scan in classes above the
	// request's own: at most this many blocks are examined per class.
	// Tuning knob; unbounded best-fit buys little utilization at a
	// real throughput cost on long lists.
	fitScanLimit = 10
)

// classOf maps a block size to its bucket index. Monotone in size.
func classOf(size int) int {
	if size <= minBlockSize {
		return 0
	}
	c := bits.Len64(uint64(size-1)) - 5
	if c >= numClasses {
		c = numClasses - 1
	}
	return c
}

// insertRegular pushes a free regular block onto the head of its size
// class. LIFO keeps recently-freed, cache-hot blocks up front.
func (a *Allocator) insertRegular(b unsafe.Pointer) {
	c := classOf(blockSize(b))
	head := a.classes[c]
	setFreePrev(b, nil)
	setFreeNext(b, head)
	if head != nil {
		setFreePrev(head, b)
	}
	a.classes[c] = b
}

// removeRegular unlinks a free regular block from its size class.
// The block must currently be on that list.
func (a *Allocator) removeRegular(b unsafe.Pointer) {
	n, p := freeNext(b), freePrev(b)
	if p == nil {
		a.classes[classOf(blockSize(b))] = n
	} else {
		setFreeNext(p, n)
	}
	if n != nil {
		setFreePrev(n, p)
	}
}

// insertMini pushes a mini block onto the singly-linked mini list. A
// mini payload holds exactly one word, so there is no prev pointer.
func (a *Allocator) insertMini(b unsafe.Pointer) {
	setFreeNext(b, a.miniHead)
	a.miniHead = b
}

// removeMini unlinks a mini block, walking the list to find its
// predecessor. O(n) in the mini-list length, which stays short because
// mini blocks coalesce and get reused aggressively.
func (a *Allocator) removeMini(b unsafe.Pointer) {
	if a.miniHead == b {
		a.miniHead = freeNext(b)
		return
	}
	for c := a.miniHead; c != nil; c = freeNext(c) {
		if freeNext(c) == b {
			setFreeNext(c, freeNext(b))
			return
		}
	}
	panic("malloc: mini block not on free list")
}

// insert files a free block on the list matching its size.
func (a *Allocator) insert(b unsafe.Pointer) {
	if blockSize(b) == miniBlockSize {
		a.insertMini(b)
	} else {
		a.insertRegular(b)
	}
}

// remove unlinks a free block from whichever list holds it.
func (a *Allocator) remove(b unsafe.Pointer) {
	if blockSize(b) == miniBlockSize {
		a.removeMini(b)
	} else {
		a.removeRegular(b)
	}
}

// findFit returns a free block able to hold asize bytes, or nil.
//
// Mini requests are served straight off the mini list. Otherwise the
// request's own class is scanned first-fit (the class range is narrow,
// so first-fit is near best-fit there); larger classes get a bounded
// best-fit of at most fitScanLimit blocks each.
func (a *Allocator) findFit(asize int) unsafe.Pointer {
	if asize <= miniBlockSize && a.miniHead != nil {
		return a.miniHead
	}
	c := classOf(asize)
	for b := a.classes[c]; b != nil; b = freeNext(b) {
		if blockSize(b) >= asize {
			return b
		}
	}
	for c++; c < numClasses; c++ {
		var best unsafe.Pointer
		scanned := 0
		for b := a.classes[c]; b != nil && scanned < fitScanLimit; b = freeNext(b) {
			scanned++
			if blockSize(b) >= asize && (best == nil || blockSize(b) < blockSize(best)) {
				best = b
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}
