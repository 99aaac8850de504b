// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "math"

// sigmoid returns 1/(1+exp(-x)).
func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

// sigmoidGrad returns the derivative of sigmoid at a point given its
// already-computed sigmoid value s = sigmoid(x): s*(1-s).
func sigmoidGrad(s float32) float32 {
	return s * (1 - s)
}

// ceilDiv returns ceil(a/b) for positive integers.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// mat3 is a 3x3 row-major matrix.
type mat3 [3][3]float32

// mat2 is a 2x2 row-major matrix, used for 2D covariance / conic.
type mat2 [2][2]float32

// quatToMat converts a (w,x,y,z) quaternion, assumed normalized by the
// caller, into a 3x3 rotation matrix. Grounded on helpers.rs::quat_to_mat.
func quatToMat(w, x, y, z float32) mat3 {
	x2, y2, z2 := x+x, y+y, z+z
	xx, xy, xz := x*x2, x*y2, x*z2
	yy, yz, zz := y*y2, y*z2, z*z2
	wx, wy, wz := w*x2, w*y2, w*z2

	return mat3{
		{1 - (yy + zz), xy - wz, xz + wy},
		{xy + wz, 1 - (xx + zz), yz - wx},
		{xz - wy, yz + wx, 1 - (xx + yy)},
	}
}

// scaleToMat returns diag(sx, sy, sz).
func scaleToMat(sx, sy, sz float32) mat3 {
	return mat3{
		{sx, 0, 0},
		{0, sy, 0},
		{0, 0, sz},
	}
}

func mat3Mul(a, b mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func mat3Transpose(a mat3) mat3 {
	var out mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

// calcCov3d computes Sigma3 = R * diag(scale)^2 * R^T, returned as the 6
// independent entries of the symmetric matrix (xx, xy, xz, yy, yz, zz).
// Grounded on helpers.rs::calc_cov3d.
func calcCov3d(quatW, quatX, quatY, quatZ, sx, sy, sz float32) (xx, xy, xz, yy, yz, zz float32) {
	r := quatToMat(quatW, quatX, quatY, quatZ)
	s := scaleToMat(sx, sy, sz)
	m := mat3Mul(r, s)
	sigma := mat3Mul(m, mat3Transpose(m))
	return sigma[0][0], sigma[0][1], sigma[0][2], sigma[1][1], sigma[1][2], sigma[2][2]
}

// clipUV clips a projected coordinate u (already divided by z) to
// [-(1+FrustumClipNeg)*limit, FrustumClipPos*limit] around the principal
// axis, the frustum clamp that keeps the projection Jacobian from
// exploding near image edges. limit is tan(fov/2) expressed in the same
// units as u; for a pixel camera this is simply img_dim/(2*focal).
func clipUV(u, limit float32) float32 {
	lo := -(1 + FrustumClipNeg) * limit
	hi := FrustumClipPos * limit
	if u < lo {
		return lo
	}
	if u > hi {
		return hi
	}
	return u
}

// calcCamJ computes the 2x3 Jacobian of the perspective projection at
// view-space point (x, y, z), clipped per clipUV. Grounded on
// helpers.rs::calc_cam_j.
func calcCamJ(x, y, z, focalX, focalY, imgW, imgH float32) (j00, j02, j11, j12 float32) {
	limX := 0.5 * imgW / focalX
	limY := 0.5 * imgH / focalY

	tx := clipUV(x/z, limX) * z
	ty := clipUV(y/z, limY) * z

	rz := 1.0 / z
	rz2 := rz * rz

	j00 = focalX * rz
	j02 = -focalX * tx * rz2
	j11 = focalY * rz
	j12 = -focalY * ty * rz2
	return
}

// calcCov2d computes the 2D screen-space covariance from the 3D
// covariance and camera Jacobian: cov2d = J * W * Sigma3 * W^T * J^T,
// where W is the rotational part of viewmat. Returns the symmetric
// entries (xx, xy, yy) with CovBlur (plus, in Mip mode, mipFloor) added to
// the diagonal. Grounded on helpers.rs::calc_cov2d.
func calcCov2d(sigma3 mat3, viewRot mat3, x, y, z, focalX, focalY, imgW, imgH, extraBlur float32) (xx, xy, yy float32) {
	j00, j02, j11, j12 := calcCamJ(x, y, z, focalX, focalY, imgW, imgH)

	// T = J * W (2x3).
	var t [2][3]float32
	for c := 0; c < 3; c++ {
		t[0][c] = j00*viewRot[0][c] + j02*viewRot[2][c]
		t[1][c] = j11*viewRot[1][c] + j12*viewRot[2][c]
	}

	// cov2d = T * Sigma3 * T^T.
	var ts [2][3]float32
	for i := 0; i < 2; i++ {
		for c := 0; c < 3; c++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += t[i][k] * sigma3[k][c]
			}
			ts[i][c] = sum
		}
	}
	for i := 0; i < 2; i++ {
		for j2 := 0; j2 < 2; j2++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += ts[i][k] * t[j2][k]
			}
			if i == 0 && j2 == 0 {
				xx = sum
			} else if i == 1 && j2 == 1 {
				yy = sum
			} else if i == 0 && j2 == 1 {
				xy = sum
			}
		}
	}

	blur := CovBlur + extraBlur
	xx += blur
	yy += blur
	return
}

// mat2Determinant returns det of {{xx, xy}, {xy, yy}}.
func mat2Determinant(xx, xy, yy float32) float32 {
	return xx*yy - xy*xy
}

// mat2Inverse returns the conic (inverse of the symmetric 2x2 covariance)
// as (cxx, cxy, cyy), or ok=false if the covariance is singular.
func mat2Inverse(xx, xy, yy float32) (cxx, cxy, cyy float32, ok bool) {
	det := mat2Determinant(xx, xy, yy)
	if det < 1e-24 {
		return 0, 0, 0, false
	}
	invDet := 1.0 / det
	return yy * invDet, -xy * invDet, xx * invDet, true
}

// covCompensation returns sqrt(det(covOrig)/det(covBlurred)), clamped to
// >= 0, used to attenuate opacity for the blur added to avoid singular
// covariances.
func covCompensation(origXX, origXY, origYY, blurredXX, blurredXY, blurredYY float32) float32 {
	detOrig := mat2Determinant(origXX, origXY, origYY)
	detBlurred := mat2Determinant(blurredXX, blurredXY, blurredYY)
	if detBlurred <= 0 {
		return 0
	}
	ratio := detOrig / detBlurred
	if ratio < 0 {
		return 0
	}
	return float32(math.Sqrt(float64(ratio)))
}

// calcSigma evaluates the conic quadratic form at offset (dx, dy) from the
// splat's screen-space mean.
func calcSigma(conicXX, conicXY, conicYY, dx, dy float32) float32 {
	return 0.5*(conicXX*dx*dx+conicYY*dy*dy) + conicXY*dx*dy
}

// calcVis returns exp(-sigma), the unclamped Gaussian falloff factor.
func calcVis(sigma float32) float32 {
	return float32(math.Exp(float64(-sigma)))
}

// powerThreshold returns log(255*opacity), the conic-power bound beyond
// which a splat contributes less than 1/255 to any pixel.
func powerThreshold(opacity float32) float32 {
	return float32(math.Log(float64(255 * opacity)))
}

// computeBBoxExtent returns the screen-space half-extent (radius in
// pixels along x and y) of the ellipse defined by conic at the power
// threshold. Grounded on helpers.rs::compute_bbox_extent /get_bbox.
func computeBBoxExtent(conicXX, conicXY, conicYY, threshold float32) (extentX, extentY float32) {
	// Extent along x: maximize dx s.t. sigma(dx, dy=0 optimal) == threshold.
	// Using the covariance (inverse of conic) diagonal bound:
	// extent = sqrt(2 * threshold * cov_ii), cov = inverse(conic).
	covXX, _, covYY, ok := mat2Inverse(conicXX, conicXY, conicYY)
	if !ok || threshold <= 0 {
		return 0, 0
	}
	extentX = float32(math.Sqrt(2 * float64(threshold) * float64(covXX)))
	extentY = float32(math.Sqrt(2 * float64(threshold) * float64(covYY)))
	return
}

// bbox is an inclusive-exclusive pixel-space rectangle [MinX,MaxX) x
// [MinY,MaxY).
type bbox struct {
	MinX, MinY, MaxX, MaxY int
}

// getBBox returns the pixel-space bounding box of a splat given its
// screen mean and extent, clamped to the image bounds.
func getBBox(meanX, meanY, extentX, extentY float32, imgW, imgH int) bbox {
	minX := int(math.Floor(float64(meanX - extentX)))
	maxX := int(math.Ceil(float64(meanX + extentX)))
	minY := int(math.Floor(float64(meanY - extentY)))
	maxY := int(math.Ceil(float64(meanY + extentY)))

	if minX < 0 {
		minX = 0
	}
	if minY < 0 {
		minY = 0
	}
	if maxX > imgW {
		maxX = imgW
	}
	if maxY > imgH {
		maxY = imgH
	}
	return bbox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// tileBBox is a tile-space bounding box [MinX,MaxX) x [MinY,MaxY),
// clamped to [0, tileBoundsX) x [0, tileBoundsY).
type tileBBox struct {
	MinX, MinY, MaxX, MaxY int
}

// getTileBBox converts a pixel-space bbox to tile units.
func getTileBBox(b bbox, tileBoundsX, tileBoundsY int) tileBBox {
	tb := tileBBox{
		MinX: b.MinX / TileSize,
		MinY: b.MinY / TileSize,
		MaxX: ceilDiv(b.MaxX, TileSize),
		MaxY: ceilDiv(b.MaxY, TileSize),
	}
	if tb.MaxX > tileBoundsX {
		tb.MaxX = tileBoundsX
	}
	if tb.MaxY > tileBoundsY {
		tb.MaxY = tileBoundsY
	}
	return tb
}

// willPrimitiveContribute implements the StopThePop conservative
// tile-occupancy test (§4.3): true if the splat's Gaussian level set at
// the power threshold intersects the tile's screen rectangle.
//
// If the splat mean lies inside the tile rectangle the answer is
// trivially true. Otherwise the power is evaluated at the point of the
// tile rectangle nearest the mean, found by clamping each axis
// independently. When ConicXY is nonzero that point is in general not
// where the quadratic form is smallest over the rectangle, so a splat
// whose level set reaches the tile elsewhere can be reported as not
// contributing.
func willPrimitiveContribute(meanX, meanY, conicXX, conicXY, conicYY, threshold float32, tileX, tileY int) bool {
	tileMinX := float32(tileX * TileSize)
	tileMinY := float32(tileY * TileSize)
	tileMaxX := tileMinX + TileSize
	tileMaxY := tileMinY + TileSize

	if meanX >= tileMinX && meanX < tileMaxX && meanY >= tileMinY && meanY < tileMaxY {
		return true
	}

	closestX := clampf(meanX, tileMinX, tileMaxX)
	closestY := clampf(meanY, tileMinY, tileMaxY)

	dx := closestX - meanX
	dy := closestY - meanY
	sigma := calcSigma(conicXX, conicXY, conicYY, dx, dy)
	return sigma <= threshold
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// max0 returns max(0, v), the SH-color clamp applied before compositing
// (§4.8): view-dependent SH bands can evaluate to a negative channel, which
// must not subtract from the accumulated pixel.
func max0(v float32) float32 {
	if v > 0 {
		return v
	}
	return 0
}
