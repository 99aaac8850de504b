// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "github.com/gogpu/brush/internal/gpu/scan"

// chunkRanges partitions a tileBoundsX x tileBoundsY tile grid into
// TilesPerSide x TilesPerSide chunks, row-major, the supplemented chunked
// rendering loop grounded on render.rs's iter_chunks.
func chunkRanges(tileBoundsX, tileBoundsY int) []tileBBox {
	var chunks []tileBBox
	for ty0 := 0; ty0 < tileBoundsY; ty0 += TilesPerSide {
		ty1 := ty0 + TilesPerSide
		if ty1 > tileBoundsY {
			ty1 = tileBoundsY
		}
		for tx0 := 0; tx0 < tileBoundsX; tx0 += TilesPerSide {
			tx1 := tx0 + TilesPerSide
			if tx1 > tileBoundsX {
				tx1 = tileBoundsX
			}
			chunks = append(chunks, tileBBox{MinX: tx0, MinY: ty0, MaxX: tx1, MaxY: ty1})
		}
	}
	return chunks
}

// chunkIntersectCounts implements stages 4-5's counting half restricted to
// one chunk's tile rectangle: for each survivor, how many of the tiles it
// overlaps fall inside chunk.
func chunkIntersectCounts(projected []ProjectedSplat, imgW, imgH, tileBoundsX, tileBoundsY int, chunk tileBBox) []uint32 {
	counts := make([]uint32, len(projected)+1)
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
		minX, minY := max(tb.MinX, chunk.MinX), max(tb.MinY, chunk.MinY)
		maxX, maxY := min(tb.MaxX, chunk.MaxX), min(tb.MaxY, chunk.MaxY)

		var n uint32
		for ty := minY; ty < maxY; ty++ {
			for tx := minX; tx < maxX; tx++ {
				if willPrimitiveContribute(p.MeanX, p.MeanY, p.ConicXX, p.ConicXY, p.ConicYY, threshold, tx, ty) {
					n++
				}
			}
		}
		counts[c+1] = n
	}
	return counts
}

// chunkMapToIntersects is mapToIntersects restricted to a chunk's tile
// rectangle, with tile ids expressed relative to the chunk's own
// (chunkTilesX x chunkTilesY) grid so tileSort/tileOffsets can operate on
// it directly.
func chunkMapToIntersects(projected []ProjectedSplat, imgW, imgH, tileBoundsX, tileBoundsY int, chunk tileBBox, cumCounts []uint32, maxIntersects uint32) (tileID, compactGID []uint32) {
	chunkTilesX := chunk.MaxX - chunk.MinX
	total := cumCounts[len(cumCounts)-1]
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
		minX, minY := max(tb.MinX, chunk.MinX), max(tb.MinY, chunk.MinY)
		maxX, maxY := min(tb.MaxX, chunk.MaxX), min(tb.MaxY, chunk.MaxY)

		base := cumCounts[c]
		var k uint32
		for ty := minY; ty < maxY; ty++ {
			for tx := minX; tx < maxX; tx++ {
				if !willPrimitiveContribute(p.MeanX, p.MeanY, p.ConicXX, p.ConicXY, p.ConicYY, threshold, tx, ty) {
					continue
				}
				slot := base + k
				k++
				if slot >= capped {
					dropped++
					continue
				}
				tileID[slot] = uint32((ty-chunk.MinY)*chunkTilesX + (tx - chunk.MinX))
				compactGID[slot] = uint32(c)
			}
		}
	}
	if dropped > 0 {
		slogger().Warn("chunked map-to-intersects: truncated", "dropped", dropped, "max_intersects", maxIntersects)
	}
	return tileID, compactGID
}

// RenderChunked implements the chunked-rendering supplement (§9's
// "intended extension", §12): stages 1-3 (project-and-cull, depth sort,
// project-visible) run once against the whole image's tile grid; stages
// 4-9 (prefix-sum, map-to-intersects, tile sort, tile offsets, rasterize)
// repeat per chunk of at most TilesPerSide x TilesPerSide tiles, each
// chunk writing into its own region of the shared output buffers.
//
// Unlike Render, RenderChunked does not currently support
// KeepAuxForBackward: backward gradients for chunked renders require
// re-deriving per-chunk tile offsets from the cached projection, which is
// not yet wired up.
func RenderChunked(params *SplatParams, cam *Camera, opts *RenderOpts) (*Image, *RenderAux, error) {
	if cam.ImgWidth <= ChunkSizePixels && cam.ImgHeight <= ChunkSizePixels {
		return Render(params, cam, opts)
	}
	if params.Len() < 0 {
		return nil, nil, ErrLengthMismatch
	}
	if params.SHDegree < 0 || params.SHDegree > MaxSHBands {
		return nil, nil, ErrInvalidSHDegree
	}

	proj := projectAndCull(params, cam, opts)
	globalFromCompactGID, _ := depthSort(proj.GlobalID, proj.Depth)
	projected, _ := projectVisible(params, cam, opts, globalFromCompactGID)

	tileBoundsX, tileBoundsY := cam.TileBoundsX(), cam.TileBoundsY()
	outImg := make([]float32, cam.ImgWidth*cam.ImgHeight*3)
	finalTransmittance := make([]float32, cam.ImgWidth*cam.ImgHeight)
	finalIndex := make([]uint32, cam.ImgWidth*cam.ImgHeight)

	maxIntersects := opts.MaxIntersects
	if maxIntersects == 0 {
		maxIntersects = defaultMaxIntersects(cam, len(globalFromCompactGID))
	}

	for _, chunk := range chunkRanges(tileBoundsX, tileBoundsY) {
		chunkTilesX := chunk.MaxX - chunk.MinX
		chunkTilesY := chunk.MaxY - chunk.MinY
		numChunkTiles := chunkTilesX * chunkTilesY

		counts := chunkIntersectCounts(projected, cam.ImgWidth, cam.ImgHeight, tileBoundsX, tileBoundsY, chunk)
		cumCounts, _ := scan.InclusiveScanU32(counts)
		tileID, compactGID := chunkMapToIntersects(projected, cam.ImgWidth, cam.ImgHeight, tileBoundsX, tileBoundsY, chunk, cumCounts, maxIntersects)
		sortedTileID, sortedCompactGID := tileSort(tileID, compactGID, numChunkTiles)
		offsets := tileOffsets(sortedTileID, numChunkTiles)

		pxMin, pyMin := chunk.MinX*TileSize, chunk.MinY*TileSize
		pxMax, pyMax := chunk.MaxX*TileSize, chunk.MaxY*TileSize
		if pxMax > cam.ImgWidth {
			pxMax = cam.ImgWidth
		}
		if pyMax > cam.ImgHeight {
			pyMax = cam.ImgHeight
		}

		rasterizeChunkInto(projected, offsets, sortedCompactGID, cam.Background, chunkTilesX, pxMin, pxMax, pyMin, pyMax, cam.ImgWidth, outImg, finalTransmittance, finalIndex)
	}

	img := packImage(outImg, finalTransmittance, cam.ImgWidth, cam.ImgHeight, opts.Format)
	aux := &RenderAux{
		NumVisible:         len(globalFromCompactGID),
		FinalTransmittance: finalTransmittance,
		FinalIndex:         finalIndex,
		ImgWidth:           cam.ImgWidth,
		ImgHeight:          cam.ImgHeight,
		TileBoundsX:        tileBoundsX,
		TileBoundsY:        tileBoundsY,
		totalSplats:        len(params.Mean) / 3,
	}
	return img, aux, nil
}

// rasterizeChunkInto is rasterizeForward restricted to one chunk's pixel
// rectangle, writing results directly into the full-image output buffers
// at their global pixel offsets.
func rasterizeChunkInto(projected []ProjectedSplat, tileOffsets, compactGID []uint32, background [3]float32, chunkTilesX, pxMin, pxMax, pyMin, pyMax, imgW int, outImg, finalTransmittance []float32, finalIndex []uint32) {
	for py := pyMin; py < pyMax; py++ {
		localTileY := (py / TileSize) - pyMin/TileSize
		for px := pxMin; px < pxMax; px++ {
			localTileX := (px / TileSize) - pxMin/TileSize
			tile := localTileY*chunkTilesX + localTileX
			begin, end := tileOffsets[tile], tileOffsets[tile+1]

			px32, py32 := float32(px)+0.5, float32(py)+0.5

			var accumR, accumG, accumB float32
			t := float32(1.0)
			idx := begin

			for ; idx < end; idx++ {
				c := compactGID[idx]
				s := &projected[c]

				dx := px32 - s.MeanX
				dy := py32 - s.MeanY
				sigma := calcSigma(s.ConicXX, s.ConicXY, s.ConicYY, dx, dy)
				if sigma < 0 {
					continue
				}
				vis := calcVis(sigma)
				alpha := s.Opacity * vis
				if alpha < 1.0/255.0 {
					continue
				}
				if alpha > AlphaClamp {
					alpha = AlphaClamp
				}

				tNext := t * (1 - alpha)
				if tNext < TransmittanceFloor {
					break
				}

				weight := alpha * t
				accumR += weight * max0(s.R)
				accumG += weight * max0(s.G)
				accumB += weight * max0(s.B)
				t = tNext
			}

			pixelIdx := py*imgW + px
			accumR += t * background[0]
			accumG += t * background[1]
			accumB += t * background[2]

			outImg[pixelIdx*3+0] = accumR
			outImg[pixelIdx*3+1] = accumG
			outImg[pixelIdx*3+2] = accumB
			finalTransmittance[pixelIdx] = t
			finalIndex[pixelIdx] = idx
		}
	}
}
