// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// mapToIntersects implements stage 5 (§4.5): re-walks each survivor's tile
// footprint (the same willPrimitiveContribute test stage 3 used to produce
// its count) and writes one (tileID, compactGID) record per hit at the
// slot splatCumHitCounts[c]+k, where k indexes the hits found so far for
// survivor c.
//
// Records beyond maxIntersects are silently dropped (truncation), logged
// once at Warn level with the number dropped, per the documented
// best-effort degradation policy.
func mapToIntersects(projected []ProjectedSplat, imgW, imgH, tileBoundsX, tileBoundsY int, splatCumHitCounts []uint32, maxIntersects uint32) (tileID []uint32, compactGID []uint32) {
	total := splatCumHitCounts[len(splatCumHitCounts)-1]
	capped := total
	if capped > maxIntersects {
		capped = maxIntersects
	}
	tileID = make([]uint32, capped)
	compactGID = make([]uint32, capped)

	var dropped uint32

	for c, p := range projected {
		threshold := powerThreshold(p.Opacity)
		if threshold <= 0 {
			continue
		}
		extentX, extentY := computeBBoxExtent(p.ConicXX, p.ConicXY, p.ConicYY, threshold)
		bb := getBBox(p.MeanX, p.MeanY, extentX, extentY, imgW, imgH)
		if bb.MinX >= bb.MaxX || bb.MinY >= bb.MaxY {
			continue
		}
		tb := getTileBBox(bb, tileBoundsX, tileBoundsY)

		base := splatCumHitCounts[c]
		var k uint32
		for ty := tb.MinY; ty < tb.MaxY; ty++ {
			for tx := tb.MinX; tx < tb.MaxX; tx++ {
				if !willPrimitiveContribute(p.MeanX, p.MeanY, p.ConicXX, p.ConicXY, p.ConicYY, threshold, tx, ty) {
					continue
				}
				slot := base + k
				k++
				if slot >= capped {
					dropped++
					continue
				}
				tileID[slot] = uint32(ty*tileBoundsX + tx)
				compactGID[slot] = uint32(c)
			}
		}
	}

	if dropped > 0 {
		slogger().Warn("map-to-intersects: truncated", "dropped", dropped, "max_intersects", maxIntersects)
	}

	return tileID, compactGID
}
