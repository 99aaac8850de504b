// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "github.com/gogpu/brush/internal/gpu/scan"

// prefixSumIntersects implements stage 4 (§4.4): an inclusive scan of
// splatIntersectCounts. Index 0 of that array is zero and survivor c's
// count sits at index c+1, so element c of the result is the number of
// intersections of all survivors before c (the offset stage 5 writes c's
// records at), and the last element is the total intersection count M.
func prefixSumIntersects(splatIntersectCounts []uint32) (splatCumHitCounts []uint32, totalIntersects uint32) {
	return scan.InclusiveScanU32(splatIntersectCounts)
}
