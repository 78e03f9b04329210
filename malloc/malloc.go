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

// Package malloc implements a general-purpose dynamic allocator over a
// brk-style heap: boundary-tagged blocks, a segregated free-list index
// with a dedicated list for 16-byte mini blocks, eager coalescing and
// 16-byte aligned payloads.
//
// Allocated blocks carry an 8-byte header and no footer; the successor's
// header caches the predecessor's alloc/mini state instead, so freeing
// coalesces in constant time without paying a footer on live blocks.
//
// The allocator is single-threaded. Callers that share one across
// goroutines must serialize every method.
package malloc

import (
	"math/bits"
	"unsafe"

	"github.com/cloudwego/segmem/heap"
)

const maxInt = int(^uint(0) >> 1)

// Allocator manages all blocks on one heap.Mem. The zero value is not
// usable; construct with New.
type Allocator struct {
	mem *heap.Mem

	// heapStart is the header of the first real block, right after the
	// 8-byte prologue word.
	heapStart unsafe.Pointer

	// classes holds the heads of the doubly-linked size-class lists;
	// miniHead the singly-linked list of 16-byte free blocks.
	classes  [numClasses]unsafe.Pointer
	miniHead unsafe.Pointer
}

// New builds an allocator on mem: it writes the prologue and epilogue
// sentinels and maps an initial free chunk of 4096 bytes.
func New(mem *heap.Mem) (*Allocator, error) {
	a := &Allocator{mem: mem}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) init() error {
	p, err := a.mem.Sbrk(2 * wordSize)
	if err != nil {
		return err
	}
	// Prologue: a zero-size allocated word acting as the predecessor of
	// the first block. The epilogue plays the successor role and moves
	// with every extension.
	store(p, pack(0, true, true, false))
	a.heapStart = unsafe.Add(p, wordSize)
	store(a.heapStart, pack(0, true, true, false))
	_, err = a.extend(chunkSize)
	return err
}

// Malloc returns a 16-byte aligned region of size bytes, or nil if size
// is not positive or the heap cannot grow. The slice's capacity is the
// full block payload.
func (a *Allocator) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	asize := adjustSize(size)
	if asize < 0 {
		return nil
	}
	b := a.findFit(asize)
	if b == nil {
		var err error
		if b, err = a.extend(asize); err != nil {
			return nil
		}
	}
	a.remove(b)
	a.place(b, asize)
	return unsafe.Slice((*byte)(payload(b)), blockSize(b)-wordSize)[:size]
}

// adjustSize converts a request to a block size: mini for requests that
// fit one word, otherwise header plus payload rounded to the alignment
// quantum with the regular floor. Returns -1 on overflow.
func adjustSize(size int) int {
	if size <= wordSize {
		return miniBlockSize
	}
	if size > maxInt-wordSize-alignment {
		return -1
	}
	asize := alignUp(size+wordSize, alignment)
	if asize < minBlockSize {
		asize = minBlockSize
	}
	return asize
}

// Free returns a block to the allocator. Freeing a zero-capacity slice
// (such as nil) is a no-op. Panics on double free or a slice not
// produced by Malloc.
//
// The block must be the original slice returned by Malloc, possibly
// shortened (block[:n]); block[n:] shifts the data pointer and corrupts
// the header lookup.
func (a *Allocator) Free(block []byte) {
	if cap(block) == 0 {
		return
	}
	a.freePayload(unsafe.Pointer(unsafe.SliceData(block)))
}

func (a *Allocator) freePayload(p unsafe.Pointer) {
	if uintptr(p)&(alignment-1) != 0 {
		panic("malloc: misaligned block")
	}
	if uintptr(p) <= uintptr(a.heapStart) || uintptr(p) > uintptr(a.mem.Hi()) {
		panic("malloc: block not on heap")
	}
	h := headerOf(p)
	w := load(h)
	if !tagAlloc(w) {
		panic("malloc: double free or invalid block")
	}
	writeTag(h, pack(tagSize(w), false, tagPrevAlloc(w), tagPrevMini(w)))
	a.insert(a.coalesce(h))
}

// Realloc resizes a block, preserving the leading min(size, old payload)
// bytes. A nil block allocates, size <= 0 frees and returns nil. On
// allocation failure the old block is left untouched and nil returned.
func (a *Allocator) Realloc(block []byte, size int) []byte {
	if cap(block) == 0 {
		return a.Malloc(size)
	}
	if size <= 0 {
		a.Free(block)
		return nil
	}
	p := unsafe.Pointer(unsafe.SliceData(block))
	w := load(headerOf(p))
	if !tagAlloc(w) {
		panic("malloc: realloc of freed block")
	}
	nb := a.Malloc(size)
	if nb == nil {
		return nil
	}
	n := tagSize(w) - wordSize
	if size < n {
		n = size
	}
	copy(nb, unsafe.Slice((*byte)(p), n))
	a.freePayload(p)
	return nb
}

// Calloc allocates count*size bytes and zeroes them. Returns nil if
// either argument is not positive, the product overflows, or the heap
// cannot grow.
func (a *Allocator) Calloc(count, size int) []byte {
	if count <= 0 || size <= 0 {
		return nil
	}
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > uint64(maxInt) {
		return nil
	}
	b := a.Malloc(int(lo))
	if b == nil {
		return nil
	}
	for i := range b {
		b[i] = 0
	}
	return b
}

// Available returns the total bytes held in free blocks, headers
// included.
func (a *Allocator) Available() int {
	total := 0
	for _, head := range a.classes {
		for b := head; b != nil; b = freeNext(b) {
			total += blockSize(b)
		}
	}
	for b := a.miniHead; b != nil; b = freeNext(b) {
		total += miniBlockSize
	}
	return total
}

// HeapSize returns the number of heap bytes currently mapped.
func (a *Allocator) HeapSize() int { return a.mem.Size() }

// Reset discards every allocation and rebuilds the initial heap on the
// same reservation. Outstanding slices become invalid.
func (a *Allocator) Reset() {
	a.mem.Reset()
	a.classes = [numClasses]unsafe.Pointer{}
	a.miniHead = nil
	if err := a.init(); err != nil {
		// The reservation held a full heap a moment ago.
		panic("malloc: " + err.Error())
	}
}
