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

// Package heap provides a brk-style growth primitive: a single reserved
// slab whose mapped prefix only ever grows. It stands in for sbrk so the
// allocator built on top of it can hand out stable addresses.
package heap

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// ErrOutOfMemory is returned by Sbrk when the reservation is exhausted.
var ErrOutOfMemory = errors.New("heap: out of memory")

// baseAlign is the alignment of the heap base. Block payloads sit at
// base+16k+16, so a 16-aligned base puts every payload on a 16-byte
// boundary.
const baseAlign = 16

// Mem is a monotone heap: Sbrk extends the mapped region, nothing ever
// shrinks it. The whole reservation is allocated up front; growing is a
// bounds check plus a break bump.
type Mem struct {
	slab []byte // keeps the reservation alive
	base unsafe.Pointer
	brk  int // mapped bytes, [base, base+brk)
	max  int // reservation size
}

// New reserves max bytes of heap space. Nothing is mapped until the
// first Sbrk. The slab is allocated without zeroing, so fresh memory
// must not be assumed to read as zero.
func New(max int) (*Mem, error) {
	if max <= 0 {
		return nil, fmt.Errorf("heap: reservation must be positive, got %d", max)
	}
	slab := dirtmake.Bytes(max+baseAlign, max+baseAlign)
	p := unsafe.Pointer(unsafe.SliceData(slab))
	if off := uintptr(p) & (baseAlign - 1); off != 0 {
		p = unsafe.Add(p, baseAlign-int(off))
	}
	return &Mem{slab: slab, base: p, max: max}, nil
}

// Sbrk grows the mapped region by incr bytes and returns the old break,
// i.e. the address of the first new byte.
func (m *Mem) Sbrk(incr int) (unsafe.Pointer, error) {
	if incr < 0 || incr > m.max-m.brk {
		return nil, ErrOutOfMemory
	}
	old := unsafe.Add(m.base, m.brk)
	m.brk += incr
	return old, nil
}

// Lo returns the address of the first heap byte.
func (m *Mem) Lo() unsafe.Pointer { return m.base }

// Hi returns the address of the last mapped heap byte.
// Only meaningful once at least one Sbrk has succeeded.
func (m *Mem) Hi() unsafe.Pointer { return unsafe.Add(m.base, m.brk-1) }

// Size returns the number of mapped bytes.
func (m *Mem) Size() int { return m.brk }

// Reset moves the break back to the base. The memory is not rezeroed.
func (m *Mem) Reset() { m.brk = 0 }
