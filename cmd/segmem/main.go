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

package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cloudwego/segmem/heap"
	"github.com/cloudwego/segmem/malloc"
	"github.com/cloudwego/segmem/trace"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "segmem",
		Short: "segmem — drive and measure the segregated-fit allocator",
	}

	// replay command
	var heapBytes int
	var checkEvery int
	var parallel bool

	replayCmd := &cobra.Command{
		Use:   "replay <trace file>...",
		Short: "Replay allocation trace files and report utilization and throughput",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traces := make([]*trace.Trace, len(args))
			for i, path := range args {
				tr, err := trace.ParseFile(path)
				if err != nil {
					return err
				}
				traces[i] = tr
			}

			opt := trace.Options{HeapBytes: heapBytes, CheckEvery: checkEvery}
			results := make([]*trace.Result, len(traces))
			errs := make([]error, len(traces))

			if parallel {
				// One allocator per trace; the allocator itself is
				// single-threaded, so parallelism stays between runs.
				var wg sync.WaitGroup
				for i, tr := range traces {
					wg.Add(1)
					i, tr := i, tr
					gopool.Go(func() {
						defer wg.Done()
						results[i], errs[i] = trace.Replay(tr, opt)
					})
				}
				wg.Wait()
			} else {
				for i, tr := range traces {
					results[i], errs[i] = trace.Replay(tr, opt)
				}
			}

			p := message.NewPrinter(language.English)
			fmt.Printf("%-32s %12s %12s %12s %8s %12s\n",
				"trace", "ops", "peak", "heap", "util", "ops/sec")
			for i, r := range results {
				if errs[i] != nil {
					return errs[i]
				}
				p.Printf("%-32s %12d %12d %12d %7.1f%% %12.0f\n",
					r.Trace, r.Ops, r.PeakBytes, r.HeapBytes,
					100*r.Utilization(), r.OpsPerSec())
			}
			return nil
		},
	}
	replayCmd.Flags().IntVar(&heapBytes, "heap", trace.DefaultHeapBytes, "heap reservation in bytes")
	replayCmd.Flags().IntVar(&checkEvery, "check", 0, "run the heap checker every N ops (0 = off)")
	replayCmd.Flags().BoolVar(&parallel, "parallel", false, "replay trace files concurrently")
	rootCmd.AddCommand(replayCmd)

	// stress command
	var ops int
	var seed int64
	var maxSize int
	var stressHeap int
	var stressCheck int

	stressCmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a randomized malloc/free/realloc/calloc workload with integrity checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stress(ops, seed, maxSize, stressHeap, stressCheck)
		},
	}
	stressCmd.Flags().IntVar(&ops, "ops", 100000, "number of operations")
	stressCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	stressCmd.Flags().IntVar(&maxSize, "max-size", 4096, "largest single request in bytes")
	stressCmd.Flags().IntVar(&stressHeap, "heap", trace.DefaultHeapBytes, "heap reservation in bytes")
	stressCmd.Flags().IntVar(&stressCheck, "check", 1000, "run the heap checker every N ops (0 = off)")
	rootCmd.AddCommand(stressCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stress drives one allocator with a random operation mix, remembering
// the fill byte of every live payload to catch corruption.
func stress(ops int, seed int64, maxSize, heapBytes, checkEvery int) error {
	mem, err := heap.New(heapBytes)
	if err != nil {
		return err
	}
	a, err := malloc.New(mem)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	type liveBlock struct {
		buf    []byte
		shadow byte
	}
	var live []liveBlock
	peak, inuse := 0, 0

	for i := 0; i < ops; i++ {
		switch r := rng.Intn(100); {
		case r < 50 || len(live) == 0:
			size := 1 + rng.Intn(maxSize)
			var b []byte
			if r%2 == 0 {
				b = a.Calloc(1, size)
			} else {
				b = a.Malloc(size)
			}
			if b == nil {
				return fmt.Errorf("stress: op %d: allocation of %d bytes failed", i, size)
			}
			pat := byte(rng.Intn(256))
			for j := range b {
				b[j] = pat
			}
			live = append(live, liveBlock{buf: b, shadow: pat})
			inuse += size
		case r < 80:
			j := rng.Intn(len(live))
			if err := verifyShadow(live[j].buf, live[j].shadow); err != nil {
				return fmt.Errorf("stress: op %d: %w", i, err)
			}
			a.Free(live[j].buf)
			inuse -= len(live[j].buf)
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			j := rng.Intn(len(live))
			if err := verifyShadow(live[j].buf, live[j].shadow); err != nil {
				return fmt.Errorf("stress: op %d: %w", i, err)
			}
			size := 1 + rng.Intn(maxSize)
			b := a.Realloc(live[j].buf, size)
			if b == nil {
				return fmt.Errorf("stress: op %d: realloc to %d bytes failed", i, size)
			}
			keep := min(size, len(live[j].buf))
			if err := verifyShadow(b[:keep], live[j].shadow); err != nil {
				return fmt.Errorf("stress: op %d: realloc dropped payload: %w", i, err)
			}
			pat := byte(rng.Intn(256))
			for k := range b {
				b[k] = pat
			}
			inuse += size - len(live[j].buf)
			live[j] = liveBlock{buf: b, shadow: pat}
		}
		if inuse > peak {
			peak = inuse
		}
		if checkEvery > 0 && (i+1)%checkEvery == 0 {
			if err := a.Check(); err != nil {
				return fmt.Errorf("stress: op %d: %w", i, err)
			}
		}
	}
	if err := a.Check(); err != nil {
		return fmt.Errorf("stress: final check: %w", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("stress: %d ops ok, %d blocks live, peak %d bytes, heap %d bytes, %d free\n",
		ops, len(live), peak, a.HeapSize(), a.Available())
	return nil
}

func verifyShadow(b []byte, pat byte) error {
	for i := range b {
		if b[i] != pat {
			return fmt.Errorf("payload corrupted at offset %d: got %#x, want %#x", i, b[i], pat)
		}
	}
	return nil
}
