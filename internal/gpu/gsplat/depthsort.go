// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "github.com/gogpu/brush/internal/gpu/radixsort"

// depthSort implements stage 2 (§4.2): a stable radix sort of survivors
// by view-space depth, carrying the global id as payload. Returns the
// depth-sorted global ids (replacing GlobalFromCompactGID) and the sorted
// depths.
func depthSort(globalID []uint32, depth []float32) (sortedGlobalID []uint32, sortedDepth []float32) {
	keys := make([]uint32, len(depth))
	for i, d := range depth {
		keys[i] = radixsort.EncodeDepthKey(d)
	}

	sortedKeys, sortedVals := radixsort.SortKeysValues(keys, globalID, 32)

	sortedDepth = make([]float32, len(sortedKeys))
	for i, k := range sortedKeys {
		sortedDepth[i] = radixsort.DecodeDepthKey(k)
	}
	return sortedVals, sortedDepth
}
