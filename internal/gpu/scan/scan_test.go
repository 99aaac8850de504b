// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scan

import "testing"

func TestExclusiveScanU32(t *testing.T) {
	cases := []struct {
		name string
		in   []uint32
		want []uint32
		tot  uint32
	}{
		{"empty", nil, []uint32{}, 0},
		{"single", []uint32{7}, []uint32{0}, 7},
		{"small", []uint32{1, 2, 3, 4}, []uint32{0, 1, 3, 6}, 10},
		{"all zero", []uint32{0, 0, 0}, []uint32{0, 0, 0}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, total := ExclusiveScanU32(c.in)
			if len(got) != len(c.want) {
				t.Fatalf("len = %d, want %d", len(got), len(c.want))
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Errorf("scanned[%d] = %d, want %d", i, got[i], c.want[i])
				}
			}
			if total != c.tot {
				t.Errorf("total = %d, want %d", total, c.tot)
			}
		})
	}
}

// TestExclusiveScanU32MultiBlock exercises the block-sums recursion by
// scanning an input spanning many blocks.
func TestExclusiveScanU32MultiBlock(t *testing.T) {
	n := BlockSize*3 + 17
	in := make([]uint32, n)
	for i := range in {
		in[i] = uint32(i%5) + 1
	}

	got, total := ExclusiveScanU32(in)

	var running uint32
	for i := range in {
		if got[i] != running {
			t.Fatalf("scanned[%d] = %d, want %d", i, got[i], running)
		}
		running += in[i]
	}
	if total != running {
		t.Errorf("total = %d, want %d", total, running)
	}
}

// TestExclusiveScanU32HugeBlockCount forces the recursive block-sums scan
// to recurse more than one level deep (numBlocks itself exceeds BlockSize).
func TestExclusiveScanU32HugeBlockCount(t *testing.T) {
	n := BlockSize*BlockSize + 3
	in := make([]uint32, n)
	for i := range in {
		in[i] = 1
	}

	got, total := ExclusiveScanU32(in)
	if total != uint32(n) {
		t.Fatalf("total = %d, want %d", total, n)
	}
	for i := range got {
		if got[i] != uint32(i) {
			t.Fatalf("scanned[%d] = %d, want %d", i, got[i], i)
		}
	}
}

func TestInclusiveScanU32(t *testing.T) {
	in := []uint32{1, 2, 3, 4}
	got, total := InclusiveScanU32(in)
	want := []uint32{1, 3, 6, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("scanned[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
}
