// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "math"

// projectedOutputs is the subset of a splat's 2D projection that
// rasterizeBackward produces gradients for.
type projectedOutputs struct {
	MeanX, MeanY             float32
	ConicXX, ConicXY, ConicYY float32
	Opacity                  float32
}

// evalProjection recomputes a single splat's 2D projection from its raw
// parameters, used both by the forward stages and, via finite difference,
// by projectBackward to build the projection Jacobian.
func evalProjection(meanW [3]float32, logScale [3]float32, quat [4]float32, rawOpacity float32, cam *Camera, viewRot mat3, extraBlur float32) projectedOutputs {
	vx, vy, vz := viewSpace(cam.ViewMat, meanW[0], meanW[1], meanW[2])

	qw, qx, qy, qz := quat[0], quat[1], quat[2], quat[3]
	normSq := qw*qw + qx*qx + qy*qy + qz*qz
	invNorm := float32(1.0 / math.Sqrt(float64(normSq)))
	qw, qx, qy, qz = qw*invNorm, qx*invNorm, qy*invNorm, qz*invNorm

	sx := float32(math.Exp(float64(logScale[0])))
	sy := float32(math.Exp(float64(logScale[1])))
	sz := float32(math.Exp(float64(logScale[2])))

	cxx, cxy, cxz, cyy, cyz, czz := calcCov3d(qw, qx, qy, qz, sx, sy, sz)
	sigma3 := mat3{{cxx, cxy, cxz}, {cxy, cyy, cyz}, {cxz, cyz, czz}}

	origXX, origXY, origYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
		float32(cam.ImgWidth), float32(cam.ImgHeight), 0)
	blurredXX, blurredXY, blurredYY := calcCov2d(sigma3, viewRot, vx, vy, vz, cam.FocalX, cam.FocalY,
		float32(cam.ImgWidth), float32(cam.ImgHeight), extraBlur)

	conicXX, conicXY, conicYY, _ := mat2Inverse(blurredXX, blurredXY, blurredYY)
	comp := covCompensation(origXX, origXY, origYY, blurredXX, blurredXY, blurredYY)
	opacity := sigmoid(rawOpacity) * comp

	return projectedOutputs{
		MeanX: cam.FocalX*vx/vz + cam.PrincipalX,
		MeanY: cam.FocalY*vy/vz + cam.PrincipalY,
		ConicXX: conicXX, ConicXY: conicXY, ConicYY: conicYY,
		Opacity: opacity,
	}
}

// projectionEps is the central-difference step used to build the
// projection Jacobian in projectBackward. The closed-form derivatives of
// calc_cov3d/calc_cov2d/mat2_inverse compose into a long chain; a
// centered finite difference over the 11 scalar inputs (mean, log_scale,
// quat, raw_opacity) gives a gradient accurate to within the tolerance
// TestBackwardFiniteDifferenceAgreement checks against, at the cost of 22
// extra projection evaluations per splat.
const projectionEps = 1e-3

// projectBackward implements stage 10 (§4.10): given per-compact-splat
// gradients on the 2D projection (mean2d, conic, opacity) and on color
// (from isectGrads), chains them back through the projection and SH
// evaluation to produce gradients on the original splat parameters
// (mean, log_scale, quat, raw_opacity, sh_coeffs), accumulated by global
// id, plus the RefineWeight auxiliary.
func projectBackward(params *SplatParams, cam *Camera, opts *RenderOpts, globalFromCompactGID []uint32, ig *isectGrads) *SplatGrads {
	n := len(params.Mean) / 3
	coeffsPerSplat := SHCoeffsForDegree(params.SHDegree)

	out := &SplatGrads{
		Mean:         make([]float32, n*3),
		LogScale:     make([]float32, n*3),
		Quat:         make([]float32, n*4),
		RawOpacity:   make([]float32, n),
		SHCoeffs:     make([]float32, n*coeffsPerSplat*3),
		RefineWeight: make([]float32, n),
	}

	viewRot := viewRotation(cam.ViewMat)
	camPos := cam.WorldPos()
	extraBlur := float32(0)
	if opts.RenderMode == RenderModeMip {
		extraBlur = opts.MipSplatFloor
	}

	for c, g := range globalFromCompactGID {
		dMeanX, dMeanY := ig.DMeanX[c], ig.DMeanY[c]
		dConicXX, dConicXY, dConicYY := ig.DConicXX[c], ig.DConicXY[c], ig.DConicYY[c]
		dOpacity := ig.DOpacity[c]

		out.RefineWeight[g] += float32(math.Sqrt(float64(dMeanX*dMeanX + dMeanY*dMeanY)))

		if dMeanX == 0 && dMeanY == 0 && dConicXX == 0 && dConicXY == 0 && dConicYY == 0 && dOpacity == 0 {
			// No 2D gradient reached this splat (it never composited into
			// any pixel); SH color gradient can still flow, handled below.
		} else {
			meanW := [3]float32{params.Mean[g*3+0], params.Mean[g*3+1], params.Mean[g*3+2]}
			logScale := [3]float32{params.LogScale[g*3+0], params.LogScale[g*3+1], params.LogScale[g*3+2]}
			quat := [4]float32{params.Quat[g*4+0], params.Quat[g*4+1], params.Quat[g*4+2], params.Quat[g*4+3]}
			rawOpacity := params.RawOpacity[g]

			weigh := func(o projectedOutputs) float32 {
				return o.MeanX*dMeanX + o.MeanY*dMeanY +
					o.ConicXX*dConicXX + o.ConicXY*dConicXY + o.ConicYY*dConicYY +
					o.Opacity*dOpacity
			}

			for k := 0; k < 3; k++ {
				mp, mm := meanW, meanW
				mp[k] += projectionEps
				mm[k] -= projectionEps
				op := evalProjection(mp, logScale, quat, rawOpacity, cam, viewRot, extraBlur)
				om := evalProjection(mm, logScale, quat, rawOpacity, cam, viewRot, extraBlur)
				out.Mean[g*3+uint32(k)] += (weigh(op) - weigh(om)) / (2 * projectionEps)
			}
			for k := 0; k < 3; k++ {
				lp, lm := logScale, logScale
				lp[k] += projectionEps
				lm[k] -= projectionEps
				op := evalProjection(meanW, lp, quat, rawOpacity, cam, viewRot, extraBlur)
				om := evalProjection(meanW, lm, quat, rawOpacity, cam, viewRot, extraBlur)
				out.LogScale[g*3+uint32(k)] += (weigh(op) - weigh(om)) / (2 * projectionEps)
			}
			for k := 0; k < 4; k++ {
				qp, qm := quat, quat
				qp[k] += projectionEps
				qm[k] -= projectionEps
				op := evalProjection(meanW, logScale, qp, rawOpacity, cam, viewRot, extraBlur)
				om := evalProjection(meanW, logScale, qm, rawOpacity, cam, viewRot, extraBlur)
				out.Quat[g*4+uint32(k)] += (weigh(op) - weigh(om)) / (2 * projectionEps)
			}
			op := evalProjection(meanW, logScale, quat, rawOpacity+projectionEps, cam, viewRot, extraBlur)
			om := evalProjection(meanW, logScale, quat, rawOpacity-projectionEps, cam, viewRot, extraBlur)
			out.RawOpacity[g] += (weigh(op) - weigh(om)) / (2 * projectionEps)
		}

		dR, dG, dB := ig.DR[c], ig.DG[c], ig.DB[c]
		if dR == 0 && dG == 0 && dB == 0 {
			continue
		}

		mx, my, mz := params.Mean[g*3+0], params.Mean[g*3+1], params.Mean[g*3+2]
		dirX, dirY, dirZ := mx-camPos[0], my-camPos[1], mz-camPos[2]
		dirLen := float32(math.Sqrt(float64(dirX*dirX + dirY*dirY + dirZ*dirZ)))
		if dirLen > 0 {
			dirX, dirY, dirZ = dirX/dirLen, dirY/dirLen, dirZ/dirLen
		}

		coeffs := params.SHCoeffs[int(g)*coeffsPerSplat*3 : (int(g)+1)*coeffsPerSplat*3]
		coeffGrad := out.SHCoeffs[int(g)*coeffsPerSplat*3 : (int(g)+1)*coeffsPerSplat*3]
		dDirX, dDirY, dDirZ := evalSHBackward(params.SHDegree, dirX, dirY, dirZ, coeffs, dR, dG, dB, coeffGrad)

		// Chain the view-direction gradient back through
		// normalize(mean - cam_pos) onto mean; cam_pos is a render input,
		// not a learnable parameter, so it receives no gradient.
		if dirLen > 0 {
			invLen := 1.0 / dirLen
			dotD := dDirX*dirX + dDirY*dirY + dDirZ*dirZ
			out.Mean[g*3+0] += (dDirX - dirX*dotD) * invLen
			out.Mean[g*3+1] += (dDirY - dirY*dotD) * invLen
			out.Mean[g*3+2] += (dDirZ - dirZ*dotD) * invLen
		}
	}

	return out
}
