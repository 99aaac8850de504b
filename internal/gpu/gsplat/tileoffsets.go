// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// tileOffsets implements stage 7 (§4.7): converts the tile-id-sorted
// intersection list into per-tile [begin,end) ranges. Returns a slice of
// length numTiles+1 where tileOffsets[t] is the first index in
// sortedTileID/sortedCompactGID belonging to tile t, and tileOffsets[t+1]
// its end (tiles with no intersections get an empty range).
func tileOffsets(sortedTileID []uint32, numTiles int) []uint32 {
	offsets := make([]uint32, numTiles+1)
	var i int
	for t := 0; t < numTiles; t++ {
		offsets[t] = uint32(i)
		for i < len(sortedTileID) && sortedTileID[i] == uint32(t) {
			i++
		}
	}
	offsets[numTiles] = uint32(len(sortedTileID))
	return offsets
}
