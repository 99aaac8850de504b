// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scan

// BlockSize is the number of elements handled by one workgroup in the GPU
// block-scan pass. It matches the WG_SIZE constant declared in
// shaders/prefix_sum_scan.wgsl.
const BlockSize = 512

// ExclusiveScanU32 computes the exclusive prefix sum of in, returning the
// scanned array (scanned[i] = sum(in[0:i])) and the grand total
// (sum(in[:])). It mirrors the three-pass hierarchical scan a GPU
// implementation performs: a per-block scan, a scan of per-block totals,
// and a final pass that adds each block's base offset back into its
// elements. The recursive scan of blockTotals mirrors brush-prefix-sum's
// loop over successive levels when the number of blocks itself exceeds
// BlockSize.
func ExclusiveScanU32(in []uint32) (scanned []uint32, total uint32) {
	n := len(in)
	scanned = make([]uint32, n)
	if n == 0 {
		return scanned, 0
	}

	numBlocks := (n + BlockSize - 1) / BlockSize
	blockTotals := make([]uint32, numBlocks)

	// Pass 1: scan each block independently, recording its total.
	for b := 0; b < numBlocks; b++ {
		start := b * BlockSize
		end := start + BlockSize
		if end > n {
			end = n
		}
		var running uint32
		for i := start; i < end; i++ {
			scanned[i] = running
			running += in[i]
		}
		blockTotals[b] = running
	}

	// Pass 2: exclusive scan of block totals (recurse if there are more
	// blocks than fit in one block-scan pass).
	var blockBases []uint32
	if numBlocks <= 1 {
		blockBases = make([]uint32, numBlocks)
	} else {
		blockBases, _ = ExclusiveScanU32(blockTotals)
	}

	// Pass 3: add each block's base back into its elements.
	for b := 0; b < numBlocks; b++ {
		base := blockBases[b]
		if base == 0 {
			continue
		}
		start := b * BlockSize
		end := start + BlockSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			scanned[i] += base
		}
	}

	total = 0
	for _, t := range blockTotals {
		total += t
	}
	return scanned, total
}

// InclusiveScanU32 computes the inclusive prefix sum (scanned[i] =
// sum(in[0:i+1])) by shifting the exclusive scan by one element.
func InclusiveScanU32(in []uint32) (scanned []uint32, total uint32) {
	excl, total := ExclusiveScanU32(in)
	scanned = make([]uint32, len(in))
	for i := range in {
		scanned[i] = excl[i] + in[i]
	}
	return scanned, total
}
