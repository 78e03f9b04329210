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

package trace

import (
	"fmt"
	"time"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"

	"github.com/cloudwego/segmem/heap"
	"github.com/cloudwego/segmem/malloc"
)

// DefaultHeapBytes is the reservation used when Options.HeapBytes is
// zero.
const DefaultHeapBytes = 64 << 20

// Options controls a replay.
type Options struct {
	// HeapBytes is the heap reservation for the replayed allocator.
	HeapBytes int
	// CheckEvery runs the heap checker every N operations; 0 disables.
	CheckEvery int
}

// Result carries the statistics of one replay.
type Result struct {
	Trace string
	Ops   int
	// PeakBytes is the highest sum of requested payload bytes live at
	// once.
	PeakBytes int
	// HeapBytes is the final mapped heap size.
	HeapBytes int
	Elapsed   time.Duration
}

// Utilization is peak payload divided by the heap the run consumed.
func (r *Result) Utilization() float64 {
	if r.HeapBytes == 0 {
		return 0
	}
	return float64(r.PeakBytes) / float64(r.HeapBytes)
}

// OpsPerSec is replay throughput.
func (r *Result) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// Replay runs a trace against a fresh allocator. Every allocation is
// filled with a pattern derived from its id and fingerprinted; frees and
// reallocs verify the fingerprint first, so any block overlap or header
// stomp surfaces as a corruption error rather than a silent pass.
func Replay(tr *Trace, opt Options) (*Result, error) {
	heapBytes := opt.HeapBytes
	if heapBytes <= 0 {
		heapBytes = DefaultHeapBytes
	}
	mem, err := heap.New(heapBytes)
	if err != nil {
		return nil, err
	}
	a, err := malloc.New(mem)
	if err != nil {
		return nil, err
	}

	blocks := make([][]byte, tr.NumIDs)
	sums := make([]uint64, tr.NumIDs)
	inuse, peak := 0, 0

	start := time.Now()
	for i, op := range tr.Ops {
		switch op.Kind {
		case OpAlloc:
			b := a.Malloc(op.Size)
			if b == nil {
				return nil, fmt.Errorf("trace %s: op %d: allocator rejected %d bytes", tr.Name, i, op.Size)
			}
			fillPattern(b, op.ID)
			blocks[op.ID] = b
			sums[op.ID] = xxhash3.Hash(b)
			inuse += op.Size
		case OpRealloc:
			old := blocks[op.ID]
			if err := verify(old, sums[op.ID]); err != nil {
				return nil, fmt.Errorf("trace %s: op %d: %w", tr.Name, i, err)
			}
			b := a.Realloc(old, op.Size)
			if b == nil {
				return nil, fmt.Errorf("trace %s: op %d: realloc to %d bytes failed", tr.Name, i, op.Size)
			}
			if err := verifyPrefix(b, op.ID, min(op.Size, len(old))); err != nil {
				return nil, fmt.Errorf("trace %s: op %d: %w", tr.Name, i, err)
			}
			fillPattern(b, op.ID)
			inuse += op.Size - len(old)
			blocks[op.ID] = b
			sums[op.ID] = xxhash3.Hash(b)
		case OpFree:
			b := blocks[op.ID]
			if err := verify(b, sums[op.ID]); err != nil {
				return nil, fmt.Errorf("trace %s: op %d: %w", tr.Name, i, err)
			}
			a.Free(b)
			inuse -= len(b)
			blocks[op.ID] = nil
		}
		if inuse > peak {
			peak = inuse
		}
		if opt.CheckEvery > 0 && (i+1)%opt.CheckEvery == 0 {
			if err := a.Check(); err != nil {
				return nil, fmt.Errorf("trace %s: op %d: %w", tr.Name, i, err)
			}
		}
	}
	elapsed := time.Since(start)

	if err := a.Check(); err != nil {
		return nil, fmt.Errorf("trace %s: final check: %w", tr.Name, err)
	}
	return &Result{
		Trace:     tr.Name,
		Ops:       len(tr.Ops),
		PeakBytes: peak,
		HeapBytes: a.HeapSize(),
		Elapsed:   elapsed,
	}, nil
}

// fillPattern writes the deterministic byte pattern of id over b.
func fillPattern(b []byte, id int) {
	x := mix(uint64(id))
	for i := range b {
		b[i] = byte(x >> ((i & 7) << 3))
		if i&7 == 7 {
			x = mix(x)
		}
	}
}

// verify recomputes b's fingerprint and compares it to the one recorded
// when the pattern was written.
func verify(b []byte, sum uint64) error {
	if xxhash3.Hash(b) != sum {
		return fmt.Errorf("payload corrupted: fingerprint mismatch over %d bytes", len(b))
	}
	return nil
}

// verifyPrefix checks that the first n bytes of b still hold id's
// pattern, using a pooled scratch buffer for the expected image.
func verifyPrefix(b []byte, id, n int) error {
	want := mcache.Malloc(n)
	defer mcache.Free(want)
	fillPattern(want, id)
	if xxhash3.Hash(b[:n]) != xxhash3.Hash(want) {
		return fmt.Errorf("payload corrupted: first %d bytes lost across realloc", n)
	}
	return nil
}

// mix is a splitmix64 round, enough spread to make per-id patterns
// distinct.
func mix(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return x
}
