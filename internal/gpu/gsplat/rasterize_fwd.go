// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// rasterizeForward implements stage 8 (§4.8): for each pixel, walks its
// tile's intersection range front-to-back (depth order is preserved by
// stages 2/6), alpha-compositing each splat's contribution until either
// the range is exhausted or the accumulated transmittance drops below
// TransmittanceFloor.
//
// The range is walked one splat at a time, as in rasterize_forward.wgsl;
// neither path stages splats in batches of RasterBatchSize.
func rasterizeForward(projected []ProjectedSplat, tileOffsets, compactGID []uint32, background [3]float32, imgW, imgH, tileBoundsX int) (outImg []float32, finalTransmittance []float32, finalIndex []uint32) {
	outImg = make([]float32, imgW*imgH*3)
	finalTransmittance = make([]float32, imgW*imgH)
	finalIndex = make([]uint32, imgW*imgH)

	for py := 0; py < imgH; py++ {
		tileY := py / TileSize
		for px := 0; px < imgW; px++ {
			tileX := px / TileSize
			tile := tileY*tileBoundsX + tileX
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

	return outImg, finalTransmittance, finalIndex
}
