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

	"github.com/cloudwego/segmem/heap"
)

func Example() {
	mem, _ := heap.New(1 << 20)
	a, _ := New(mem)

	b1 := a.Malloc(24) // regular block, 32 bytes with header
	b2 := a.Malloc(8)  // mini block, one payload word

	fmt.Printf("b1: len=%d cap=%d\n", len(b1), cap(b1))
	fmt.Printf("b2: len=%d cap=%d\n", len(b2), cap(b2))

	a.Free(b1)
	a.Free(b2)
	fmt.Println(a.Check() == nil)

	// Output:
	// b1: len=24 cap=24
	// b2: len=8 cap=8
	// true
}
