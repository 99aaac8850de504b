// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "math"

// projectResult holds the output of projectAndCull (§4.1): the compact
// survivor list (global id + view-space depth, unsorted) and the count of
// survivors.
type projectResult struct {
	GlobalID []uint32
	Depth    []float32
}

// viewSpace transforms a world-space point by the camera's view matrix,
// returning the view-space coordinates.
func viewSpace(viewMat [16]float32, x, y, z float32) (vx, vy, vz float32) {
	vx = viewMat[0]*x + viewMat[1]*y + viewMat[2]*z + viewMat[3]
	vy = viewMat[4]*x + viewMat[5]*y + viewMat[6]*z + viewMat[7]
	vz = viewMat[8]*x + viewMat[9]*y + viewMat[10]*z + viewMat[11]
	return
}

// viewRotation extracts the rotational (upper-left 3x3) part of the view
// matrix.
func viewRotation(viewMat [16]float32) mat3 {
	return mat3{
		{viewMat[0], viewMat[1], viewMat[2]},
		{viewMat[4], viewMat[5], viewMat[6]},
		{viewMat[8], viewMat[9], viewMat[10]},
	}
}

// projectAndCull implements stage 1 (§4.1): for each splat, compute
// view-space mean and screen-space extent, reject invisible/degenerate
// splats, and record the survivors' global id and view-space depth.
//
// Survivors are appended in input order (not yet depth sorted); depthSort
// (stage 2) produces the final compact ordering.
func projectAndCull(params *SplatParams, cam *Camera, opts *RenderOpts) *projectResult {
	n := len(params.Mean) / 3
	res := &projectResult{
		GlobalID: make([]uint32, 0, n),
		Depth:    make([]float32, 0, n),
	}

	viewRot := viewRotation(cam.ViewMat)
	tileBoundsX := cam.TileBoundsX()
	tileBoundsY := cam.TileBoundsY()

	extraBlur := float32(0)
	if opts.RenderMode == RenderModeMip {
		extraBlur = opts.MipSplatFloor
	}

	for g := 0; g < n; g++ {
		mx, my, mz := params.Mean[g*3+0], params.Mean[g*3+1], params.Mean[g*3+2]
		vx, vy, vz := viewSpace(cam.ViewMat, mx, my, mz)

		// Positive-form tests: !(z < ZNear) is intentional so NaN fails
		// the check and the splat is rejected (§4.1).
		if !(vz >= ZNear) || vz > ZFar {
			continue
		}

		qw, qx, qy, qz := params.Quat[g*4+0], params.Quat[g*4+1], params.Quat[g*4+2], params.Quat[g*4+3]
		normSq := qw*qw + qx*qx + qy*qy + qz*qz
		if !(normSq >= QuatNormSqMin) {
			continue
		}
		invNorm := float32(1.0 / math.Sqrt(float64(normSq)))
		qw, qx, qy, qz = qw*invNorm, qx*invNorm, qy*invNorm, qz*invNorm

		sx := float32(math.Exp(float64(params.LogScale[g*3+0])))
		sy := float32(math.Exp(float64(params.LogScale[g*3+1])))
		sz := float32(math.Exp(float64(params.LogScale[g*3+2])))

		cxx, cxy, cxz, cyy, cyz, czz := calcCov3d(qw, qx, qy, qz, sx, sy, sz)
		sigma3 := mat3{{cxx, cxy, cxz}, {cxy, cyy, cyz}, {cxz, cyz, czz}}

		opacity := sigmoid(params.RawOpacity[g])
		if !(opacity >= OpacityFloor) {
			continue
		}

		origXX, origXY, origYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
			float32(cam.ImgWidth), float32(cam.ImgHeight), 0)
		blurredXX, blurredXY, blurredYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
			float32(cam.ImgWidth), float32(cam.ImgHeight), extraBlur)

		conicXX, conicXY, conicYY, ok := mat2Inverse(blurredXX, blurredXY, blurredYY)
		if !ok {
			continue
		}

		comp := covCompensation(origXX, origXY, origYY, blurredXX, blurredXY, blurredYY)
		effectiveOpacity := opacity * comp
		if !(effectiveOpacity >= OpacityFloor) {
			continue
		}

		meanX := cam.FocalX*vx/vz + cam.PrincipalX
		meanY := cam.FocalY*vy/vz + cam.PrincipalY

		threshold := powerThreshold(effectiveOpacity)
		if threshold <= 0 {
			continue
		}
		extentX, extentY := computeBBoxExtent(conicXX, conicXY, conicYY, threshold)
		b := getBBox(meanX, meanY, extentX, extentY, cam.ImgWidth, cam.ImgHeight)
		if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
			continue
		}
		tb := getTileBBox(b, tileBoundsX, tileBoundsY)
		if tb.MinX >= tb.MaxX || tb.MinY >= tb.MaxY {
			continue
		}

		res.GlobalID = append(res.GlobalID, uint32(g))
		res.Depth = append(res.Depth, vz)
	}

	slogger().Debug("project-and-cull: survivors", "total", n, "num_visible", len(res.GlobalID))
	return res
}
