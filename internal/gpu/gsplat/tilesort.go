// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import (
	"math/bits"

	"github.com/gogpu/brush/internal/gpu/radixsort"
)

// tileSort implements stage 6 (§4.6): a stable radix sort of the
// intersection records by tile id, carrying the compact splat id as
// payload. Within a tile, the original (depth) order of compactGID is
// preserved by the sort's stability.
func tileSort(tileID, compactGID []uint32, numTiles int) (sortedTileID, sortedCompactGID []uint32) {
	sortBits := bits.Len32(uint32(numTiles))
	if sortBits == 0 {
		sortBits = 1
	}
	return radixsort.SortKeysValues(tileID, compactGID, sortBits)
}
