// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// isectGrads accumulates per-compact-splat gradients produced by the
// backward rasterize walk (stage 9, §4.9), in the 2D-projection
// parameterization (mean2d, conic, color, opacity) that projectBackward
// (stage 10) then chains back to the splat parameters.
type isectGrads struct {
	DMeanX, DMeanY             []float32
	DConicXX, DConicXY, DConicYY []float32
	DR, DG, DB                 []float32
	DOpacity                   []float32
}

func newIsectGrads(n int) *isectGrads {
	return &isectGrads{
		DMeanX: make([]float32, n), DMeanY: make([]float32, n),
		DConicXX: make([]float32, n), DConicXY: make([]float32, n), DConicYY: make([]float32, n),
		DR: make([]float32, n), DG: make([]float32, n), DB: make([]float32, n),
		DOpacity: make([]float32, n),
	}
}

// rasterizeBackward implements stage 9 (§4.9): for each pixel, re-walks
// its tile's intersection range back-to-front (the reverse of stage 8's
// order, from the splat just before finalIndex down to the tile's first
// intersection), reconstructing the per-splat transmittance and
// accumulating gradients of the per-pixel loss onto each splat's 2D
// projection parameters.
func rasterizeBackward(projected []ProjectedSplat, tileOffsets, compactGID []uint32, background [3]float32, dLdImage []float32, finalTransmittance []float32, finalIndex []uint32, imgW, imgH, tileBoundsX int) *isectGrads {
	grads := newIsectGrads(len(projected))

	for py := 0; py < imgH; py++ {
		tileY := py / TileSize
		for px := 0; px < imgW; px++ {
			tileX := px / TileSize
			tile := tileY*tileBoundsX + tileX
			begin := tileOffsets[tile]

			pixelIdx := py*imgW + px
			dOutR := dLdImage[pixelIdx*3+0]
			dOutG := dLdImage[pixelIdx*3+1]
			dOutB := dLdImage[pixelIdx*3+2]
			bgDot := dOutR*background[0] + dOutG*background[1] + dOutB*background[2]

			tFinal := finalTransmittance[pixelIdx]
			t := tFinal
			var accumR, accumG, accumB float32

			px32, py32 := float32(px)+0.5, float32(py)+0.5

			for idx := int(finalIndex[pixelIdx]) - 1; idx >= int(begin); idx-- {
				c := compactGID[idx]
				s := &projected[c]

				dx := px32 - s.MeanX
				dy := py32 - s.MeanY
				sigma := calcSigma(s.ConicXX, s.ConicXY, s.ConicYY, dx, dy)
				if sigma < 0 {
					continue
				}
				vis := calcVis(sigma)
				rawAlpha := s.Opacity * vis
				if rawAlpha < 1.0/255.0 {
					continue
				}
				clamped := rawAlpha > AlphaClamp
				alpha := rawAlpha
				if clamped {
					alpha = AlphaClamp
				}

				t = t / (1 - alpha)

				colorR, colorG, colorB := max0(s.R), max0(s.G), max0(s.B)

				var dAlpha float32
				dAlpha += (colorR - accumR) * t * dOutR
				dAlpha += (colorG - accumG) * t * dOutG
				dAlpha += (colorB - accumB) * t * dOutB
				dAlpha += -(tFinal / (1 - alpha)) * bgDot

				if colorR > 0 {
					grads.DR[c] += alpha * t * dOutR
				}
				if colorG > 0 {
					grads.DG[c] += alpha * t * dOutG
				}
				if colorB > 0 {
					grads.DB[c] += alpha * t * dOutB
				}

				accumR = alpha*colorR + (1-alpha)*accumR
				accumG = alpha*colorG + (1-alpha)*accumG
				accumB = alpha*colorB + (1-alpha)*accumB

				if clamped {
					continue
				}

				dSigma := -alpha * dAlpha
				grads.DConicXX[c] += dSigma * 0.5 * dx * dx
				grads.DConicYY[c] += dSigma * 0.5 * dy * dy
				grads.DConicXY[c] += dSigma * dx * dy
				grads.DMeanX[c] += -dSigma * (s.ConicXX*dx + s.ConicXY*dy)
				grads.DMeanY[c] += -dSigma * (s.ConicYY*dy + s.ConicXY*dx)
				grads.DOpacity[c] += dAlpha * vis
			}
		}
	}

	return grads
}
