// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "math"

// projectVisible implements stage 3 (§4.3): for each survivor in compact
// (depth-sorted) order, recompute the 2D projection, evaluate spherical
// harmonics for view-dependent color, and count tile intersections.
//
// Returns the packed projections and, per survivor, the number of tiles
// it intersects (splatIntersectCounts has length numVisible+1, index c+1
// holding c's count, leaving index 0 as the scan sentinel per §3).
func projectVisible(params *SplatParams, cam *Camera, opts *RenderOpts, globalFromCompactGID []uint32) (projected []ProjectedSplat, splatIntersectCounts []uint32) {
	numVisible := len(globalFromCompactGID)
	projected = make([]ProjectedSplat, numVisible)
	splatIntersectCounts = make([]uint32, numVisible+1)

	viewRot := viewRotation(cam.ViewMat)
	tileBoundsX := cam.TileBoundsX()
	tileBoundsY := cam.TileBoundsY()
	camPos := cam.WorldPos()

	extraBlur := float32(0)
	if opts.RenderMode == RenderModeMip {
		extraBlur = opts.MipSplatFloor
	}

	coeffsPerSplat := SHCoeffsForDegree(params.SHDegree)

	for c := 0; c < numVisible; c++ {
		g := globalFromCompactGID[c]
		mx, my, mz := params.Mean[g*3+0], params.Mean[g*3+1], params.Mean[g*3+2]
		vx, vy, vz := viewSpace(cam.ViewMat, mx, my, mz)

		qw, qx, qy, qz := params.Quat[g*4+0], params.Quat[g*4+1], params.Quat[g*4+2], params.Quat[g*4+3]
		normSq := qw*qw + qx*qx + qy*qy + qz*qz
		invNorm := float32(1.0 / math.Sqrt(float64(normSq)))
		qw, qx, qy, qz = qw*invNorm, qx*invNorm, qy*invNorm, qz*invNorm

		sx := float32(math.Exp(float64(params.LogScale[g*3+0])))
		sy := float32(math.Exp(float64(params.LogScale[g*3+1])))
		sz := float32(math.Exp(float64(params.LogScale[g*3+2])))

		cxx, cxy, cxz, cyy, cyz, czz := calcCov3d(qw, qx, qy, qz, sx, sy, sz)
		sigma3 := mat3{{cxx, cxy, cxz}, {cxy, cyy, cyz}, {cxz, cyz, czz}}

		origXX, origXY, origYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
			float32(cam.ImgWidth), float32(cam.ImgHeight), 0)
		blurredXX, blurredXY, blurredYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
			float32(cam.ImgWidth), float32(cam.ImgHeight), extraBlur)

		conicXX, conicXY, conicYY, _ := mat2Inverse(blurredXX, blurredXY, blurredYY)
		comp := covCompensation(origXX, origXY, origYY, blurredXX, blurredXY, blurredYY)

		opacity := sigmoid(params.RawOpacity[g]) * comp

		meanX := cam.FocalX*vx/vz + cam.PrincipalX
		meanY := cam.FocalY*vy/vz + cam.PrincipalY

		dirX, dirY, dirZ := mx-camPos[0], my-camPos[1], mz-camPos[2]
		dirLen := float32(math.Sqrt(float64(dirX*dirX + dirY*dirY + dirZ*dirZ)))
		if dirLen > 0 {
			dirX, dirY, dirZ = dirX/dirLen, dirY/dirLen, dirZ/dirLen
		}

		coeffs := params.SHCoeffs[int(g)*coeffsPerSplat*3 : (int(g)+1)*coeffsPerSplat*3]
		r, g2, b := evalSH(params.SHDegree, dirX, dirY, dirZ, coeffs)

		projected[c] = ProjectedSplat{
			MeanX: meanX, MeanY: meanY,
			ConicXX: conicXX, ConicXY: conicXY, ConicYY: conicYY,
			R: r, G: g2, B: b,
			Opacity: opacity,
		}

		threshold := powerThreshold(opacity)
		if threshold <= 0 {
			continue
		}
		extentX, extentY := computeBBoxExtent(conicXX, conicXY, conicYY, threshold)
		bb := getBBox(meanX, meanY, extentX, extentY, cam.ImgWidth, cam.ImgHeight)
		if bb.MinX >= bb.MaxX || bb.MinY >= bb.MaxY {
			continue
		}
		tb := getTileBBox(bb, tileBoundsX, tileBoundsY)

		var count uint32
		for ty := tb.MinY; ty < tb.MaxY; ty++ {
			for tx := tb.MinX; tx < tb.MaxX; tx++ {
				if willPrimitiveContribute(meanX, meanY, conicXX, conicXY, conicYY, threshold, tx, ty) {
					count++
				}
			}
		}
		splatIntersectCounts[c+1] = count
	}

	return projected, splatIntersectCounts
}
