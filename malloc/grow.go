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

// extend grows the heap by at least n bytes (rounded to the alignment
// quantum, floored at chunkSize), builds a free block out of the new
// region and files it. Returns the header of the resulting block, which
// may include the former tail block after coalescing.
//
// The old epilogue word becomes the new block's header, inheriting the
// prev flags it carried, so the block chain stays unbroken across the
// growth.
func (a *Allocator) extend(n int) (unsafe.Pointer, error) {
	n = alignUp(n, alignment)
	if n < chunkSize {
		n = chunkSize
	}
	p, err := a.mem.Sbrk(n)
	if err != nil {
		return nil, err
	}

	h := unsafe.Add(p, -wordSize) // former epilogue
	old := load(h)
	writeTag(h, pack(n, false, tagPrevAlloc(old), tagPrevMini(old)))
	store(next(h), pack(0, true, false, false)) // fresh epilogue

	b := a.coalesce(h)
	a.insert(b)
	return b, nil
}

// alignUp rounds n up to the next multiple of align (a power of two).
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
