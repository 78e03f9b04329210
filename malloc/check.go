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
	"fmt"
	"unsafe"

	set3 "github.com/TomTonic/Set3"
)

// Check walks the heap and every free list and reports the first
// violation it finds, or nil when the heap is consistent. It never
// mutates, so it can run between any two operations.
//
// Checked, in order: sentinel words, per-block alignment and size
// floors, heap coverage, prev-flag coherence between every block pair,
// no adjacent free blocks, header/footer mirroring on free regular
// blocks, free-list membership (each free block on exactly one list, in
// the right class, links bidirectional) and the walk/list census match.
func (a *Allocator) Check() error {
	if a.mem == nil || a.heapStart == nil {
		return fmt.Errorf("malloc: allocator not initialized")
	}

	lo := uintptr(a.mem.Lo())
	hi := uintptr(a.mem.Hi())

	prologue := load(a.mem.Lo())
	if prologue != pack(0, true, true, false) {
		return fmt.Errorf("malloc: prologue corrupted: %#x", prologue)
	}

	// Heap walk: collect every free block and validate the block chain.
	freeSeen := set3.EmptyWithCapacity[uintptr](64)
	freeWalked := 0
	prevWord := prologue
	h := a.heapStart
	for {
		if uintptr(h) < lo || uintptr(h)+wordSize-1 > hi {
			return fmt.Errorf("malloc: block %#x outside heap [%#x, %#x]", uintptr(h), lo, hi)
		}
		w := load(h)
		size := tagSize(w)
		if size == 0 {
			break // epilogue
		}
		if size != miniBlockSize && size < minBlockSize {
			return fmt.Errorf("malloc: block %#x: size %d below regular minimum", uintptr(h), size)
		}
		if uintptr(payload(h))%alignment != 0 {
			return fmt.Errorf("malloc: block %#x: payload not 16-aligned", uintptr(h))
		}
		if uintptr(h)+uintptr(size)-1 > hi {
			return fmt.Errorf("malloc: block %#x: size %d runs past heap end", uintptr(h), size)
		}
		if tagPrevAlloc(w) != tagAlloc(prevWord) {
			return fmt.Errorf("malloc: block %#x: prev-alloc flag disagrees with predecessor", uintptr(h))
		}
		if tagPrevMini(w) != (tagSize(prevWord) == miniBlockSize) {
			return fmt.Errorf("malloc: block %#x: prev-mini flag disagrees with predecessor", uintptr(h))
		}
		if !tagAlloc(w) {
			if !tagAlloc(prevWord) {
				return fmt.Errorf("malloc: block %#x: two adjacent free blocks", uintptr(h))
			}
			if size > miniBlockSize {
				footer := load(unsafe.Add(h, size-wordSize))
				if footer != w {
					return fmt.Errorf("malloc: block %#x: footer %#x does not mirror header %#x", uintptr(h), footer, w)
				}
			}
			freeSeen.Add(uintptr(h))
			freeWalked++
		}
		prevWord = w
		h = next(h)
	}

	// The epilogue must close the heap exactly and carry live prev flags.
	epi := load(h)
	if !tagAlloc(epi) {
		return fmt.Errorf("malloc: epilogue not marked allocated")
	}
	if uintptr(h)+wordSize-1 != hi {
		return fmt.Errorf("malloc: block sizes do not cover the heap: epilogue at %#x, heap ends at %#x", uintptr(h), hi)
	}
	if tagPrevAlloc(epi) != tagAlloc(prevWord) || tagPrevMini(epi) != (tagSize(prevWord) == miniBlockSize) {
		return fmt.Errorf("malloc: epilogue prev flags disagree with tail block")
	}

	// Free-list walk: every node free, in range, linked both ways, on
	// exactly one list, and known to the heap walk.
	listed := set3.EmptyWithCapacity[uintptr](64)
	freeListed := 0
	for c, head := range a.classes {
		if head != nil && freePrev(head) != nil {
			return fmt.Errorf("malloc: class %d: head has a predecessor", c)
		}
		for b := head; b != nil; b = freeNext(b) {
			w := load(b)
			if tagAlloc(w) {
				return fmt.Errorf("malloc: class %d: allocated block %#x on free list", c, uintptr(b))
			}
			if classOf(tagSize(w)) != c {
				return fmt.Errorf("malloc: class %d: block %#x of size %d filed in wrong class", c, uintptr(b), tagSize(w))
			}
			if n := freeNext(b); n != nil && freePrev(n) != b {
				return fmt.Errorf("malloc: class %d: broken prev link at %#x", c, uintptr(b))
			}
			if !freeSeen.Contains(uintptr(b)) {
				return fmt.Errorf("malloc: class %d: listed block %#x not found by heap walk", c, uintptr(b))
			}
			if listed.Contains(uintptr(b)) {
				return fmt.Errorf("malloc: block %#x on more than one free list", uintptr(b))
			}
			listed.Add(uintptr(b))
			freeListed++
		}
	}
	for b := a.miniHead; b != nil; b = freeNext(b) {
		w := load(b)
		if tagAlloc(w) {
			return fmt.Errorf("malloc: allocated block %#x on mini list", uintptr(b))
		}
		if tagSize(w) != miniBlockSize {
			return fmt.Errorf("malloc: block %#x of size %d on mini list", uintptr(b), tagSize(w))
		}
		if !freeSeen.Contains(uintptr(b)) {
			return fmt.Errorf("malloc: mini block %#x not found by heap walk", uintptr(b))
		}
		if listed.Contains(uintptr(b)) {
			return fmt.Errorf("malloc: block %#x on more than one free list", uintptr(b))
		}
		listed.Add(uintptr(b))
		freeListed++
	}

	if freeListed != freeWalked {
		return fmt.Errorf("malloc: %d free blocks on heap but %d on free lists", freeWalked, freeListed)
	}
	return nil
}
