// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package radixsort

import (
	"math/rand"
	"sort"
	"testing"
)

func TestSortKeysValuesOrdersAscending(t *testing.T) {
	keys := []uint32{5, 1, 4, 2, 8, 0, 3}
	values := []uint32{50, 10, 40, 20, 80, 0, 30}

	sortedKeys, sortedVals := SortKeysValues(keys, values, 32)

	for i := 1; i < len(sortedKeys); i++ {
		if sortedKeys[i-1] > sortedKeys[i] {
			t.Fatalf("not sorted at %d: %v", i, sortedKeys)
		}
	}
	for i, k := range sortedKeys {
		if sortedVals[i] != k*10 {
			t.Errorf("value for key %d = %d, want %d", k, sortedVals[i], k*10)
		}
	}
}

func TestSortKeysValuesStable(t *testing.T) {
	// Three elements share key 3; their values (used here to track
	// original position) must keep their original relative order.
	keys := []uint32{3, 3, 1, 3}
	values := []uint32{0, 1, 2, 3}

	_, sortedVals := SortKeysValues(keys, values, 32)

	var keyThreeOrder []uint32
	sortedKeys, _ := SortKeysValues(keys, values, 32)
	for i, k := range sortedKeys {
		if k == 3 {
			keyThreeOrder = append(keyThreeOrder, sortedVals[i])
		}
	}
	want := []uint32{0, 1, 3}
	for i := range want {
		if keyThreeOrder[i] != want[i] {
			t.Fatalf("stability violated: got order %v, want %v", keyThreeOrder, want)
		}
	}
}

func TestSortKeysValuesRandomMatchesStdlibSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 2000
	keys := make([]uint32, n)
	values := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32()
		values[i] = uint32(i)
	}

	sortedKeys, _ := SortKeysValues(keys, values, 32)

	want := append([]uint32(nil), keys...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for i := range want {
		if sortedKeys[i] != want[i] {
			t.Fatalf("mismatch at %d: got %d, want %d", i, sortedKeys[i], want[i])
		}
	}
}

func TestSortKeysValuesLimitedBits(t *testing.T) {
	// With only 8 sorting bits, ordering should match keys truncated to
	// their low byte, not full 32-bit ordering.
	keys := []uint32{0x1FF, 0x0FF, 0x100}
	values := []uint32{0, 1, 2}

	sortedKeys, _ := SortKeysValues(keys, values, 8)

	for i := 1; i < len(sortedKeys); i++ {
		if sortedKeys[i-1]&0xFF > sortedKeys[i]&0xFF {
			t.Fatalf("not sorted by low byte: %v", sortedKeys)
		}
	}
}

func TestEncodeDecodeDepthKeyRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 3.14159, -3.14159, 1e10, -1e10, 1e-10}
	for _, v := range values {
		key := EncodeDepthKey(v)
		got := DecodeDepthKey(key)
		if got != v {
			t.Errorf("round trip %v -> %d -> %v, want %v", v, key, got, v)
		}
	}
}

func TestEncodeDepthKeyPreservesOrdering(t *testing.T) {
	values := []float32{-100, -1, -0.001, 0, 0.001, 1, 100}
	keys := make([]uint32, len(values))
	for i, v := range values {
		keys[i] = EncodeDepthKey(v)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("monotone encoding broken at %d: %v -> %v", i, values, keys)
		}
	}
}

func TestSortKeysValuesByDepthKey(t *testing.T) {
	depths := []float32{3.5, -2.1, 0.0, -10.0, 100.2, 0.001}
	keys := make([]uint32, len(depths))
	values := make([]uint32, len(depths))
	for i, d := range depths {
		keys[i] = EncodeDepthKey(d)
		values[i] = uint32(i)
	}

	_, sortedVals := SortKeysValues(keys, values, 32)

	for i := 1; i < len(sortedVals); i++ {
		if depths[sortedVals[i-1]] > depths[sortedVals[i]] {
			t.Fatalf("depth order violated: %v", sortedVals)
		}
	}
}
