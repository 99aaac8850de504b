// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "math"

// Spherical-harmonic basis constants, Sloan 2013 closed-form real SH up to
// band 4 (25 coefficients), grounded on
// original_source/crates/brush-render/src/cubecl/sh.rs.
const shC0 = 0.2820947917738781

var shC1 = [3]float32{0.4886025119029199, 0.4886025119029199, 0.4886025119029199}

var shC2 = [5]float32{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var shC3 = [7]float32{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

var shC4 = [9]float32{
	2.5033429417967046,
	-1.7701307697799304,
	0.9461746957575601,
	-0.6690465435572892,
	0.10578554691520431,
	-0.6690465435572892,
	0.47308734787878004,
	-1.7701307697799304,
	0.6258357354491761,
}

// SHCoeffsForDegree returns (degree+1)^2, the number of RGB coefficient
// triples stored per splat at the given band degree. Grounded on
// sh.rs::sh_coeffs_for_degree.
func SHCoeffsForDegree(degree int) int {
	d := degree + 1
	return d * d
}

// SHDegreeFromCoeffs returns the SH degree implied by a coefficient count,
// or -1 if numCoeffs is not a perfect square in [1, 25]. Grounded on
// sh.rs::sh_degree_from_coeffs.
func SHDegreeFromCoeffs(numCoeffs int) int {
	for d := 0; d <= MaxSHBands; d++ {
		if SHCoeffsForDegree(d) == numCoeffs {
			return d
		}
	}
	return -1
}

// ChannelToSH converts a single linear-RGB channel value into its
// band-0 SH coefficient: (value - 0.5) / SH_C0. Grounded on
// sh.rs::channel_to_sh.
func ChannelToSH(value float32) float32 {
	return (value - 0.5) / shC0
}

// RGBToSH converts a linear RGB triple into band-0 SH coefficients.
// Grounded on sh.rs::rgb_to_sh.
func RGBToSH(r, g, b float32) [3]float32 {
	return [3]float32{ChannelToSH(r), ChannelToSH(g), ChannelToSH(b)}
}

// LinearToSRGB gamma-corrects a single linear channel value for display,
// the standard piecewise sRGB transfer function. Grounded on
// sh.rs::linear_to_srgb.
func LinearToSRGB(v float32) float32 {
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*float32(math.Pow(float64(v), 1.0/2.4)) - 0.055
}

// LinearColorToSRGB applies LinearToSRGB to an RGB triple.
func LinearColorToSRGB(r, g, b float32) [3]float32 {
	return [3]float32{LinearToSRGB(r), LinearToSRGB(g), LinearToSRGB(b)}
}

// shBasis evaluates the real spherical harmonic basis functions up to the
// given degree at the unit direction (x, y, z), returning
// SHCoeffsForDegree(degree) values. Grounded on
// original_source/crates/brush-render/src/cubecl/sh.rs's zonal/sectoral
// recursion (Sloan 2013).
func shBasis(degree int, x, y, z float32) []float32 {
	n := SHCoeffsForDegree(degree)
	out := make([]float32, n)
	out[0] = shC0
	if degree < 1 {
		return out
	}

	out[1] = -shC1[0] * y
	out[2] = shC1[1] * z
	out[3] = -shC1[2] * x
	if degree < 2 {
		return out
	}

	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z

	out[4] = shC2[0] * xy
	out[5] = shC2[1] * yz
	out[6] = shC2[2] * (2*zz - xx - yy)
	out[7] = shC2[3] * xz
	out[8] = shC2[4] * (xx - yy)
	if degree < 3 {
		return out
	}

	out[9] = shC3[0] * y * (3*xx - yy)
	out[10] = shC3[1] * xy * z
	out[11] = shC3[2] * y * (4*zz - xx - yy)
	out[12] = shC3[3] * z * (2*zz - 3*xx - 3*yy)
	out[13] = shC3[4] * x * (4*zz - xx - yy)
	out[14] = shC3[5] * z * (xx - yy)
	out[15] = shC3[6] * x * (xx - 3*yy)
	if degree < 4 {
		return out
	}

	out[16] = shC4[0] * xy * (xx - yy)
	out[17] = shC4[1] * yz * (3*xx - yy)
	out[18] = shC4[2] * xy * (7*zz - 1)
	out[19] = shC4[3] * yz * (7*zz - 3)
	out[20] = shC4[4] * (zz*(35*zz-30) + 3)
	out[21] = shC4[5] * xz * (7*zz - 3)
	out[22] = shC4[6] * (xx - yy) * (7*zz - 1)
	out[23] = shC4[7] * xz * (xx - 3*yy)
	out[24] = shC4[8] * (xx*(xx-3*yy) - yy*(3*xx-yy))

	return out
}

// evalSH evaluates the view-dependent color for one splat: sum_i
// coeffs[i]*basis_i(dir), offset by +0.5 per channel (§4.3: "band-0
// coefficient is centred on zero so baseline gray is 0.5"). coeffs is
// flattened [coeff][channel], length SHCoeffsForDegree(degree)*3.
func evalSH(degree int, dirX, dirY, dirZ float32, coeffs []float32) (r, g, b float32) {
	basis := shBasis(degree, dirX, dirY, dirZ)
	for i, bv := range basis {
		r += bv * coeffs[i*3+0]
		g += bv * coeffs[i*3+1]
		b += bv * coeffs[i*3+2]
	}
	return r + 0.5, g + 0.5, b + 0.5
}

// shBasisDirGrad numerically differentiates the SH basis with respect to
// the (unnormalized) direction components, via central differences. The
// basis polynomials are smooth and low-degree, so a modest epsilon gives
// machine-precision-adjacent accuracy; this avoids hand-deriving 25
// closed-form partials while keeping backward's direction gradient exact
// to O(eps^2).
func shBasisDirGrad(degree int, dirX, dirY, dirZ float32) (dBasisDX, dBasisDY, dBasisDZ []float32) {
	const eps = 1e-3
	plusX := shBasis(degree, dirX+eps, dirY, dirZ)
	minusX := shBasis(degree, dirX-eps, dirY, dirZ)
	plusY := shBasis(degree, dirX, dirY+eps, dirZ)
	minusY := shBasis(degree, dirX, dirY-eps, dirZ)
	plusZ := shBasis(degree, dirX, dirY, dirZ+eps)
	minusZ := shBasis(degree, dirX, dirY, dirZ-eps)

	n := len(plusX)
	dBasisDX = make([]float32, n)
	dBasisDY = make([]float32, n)
	dBasisDZ = make([]float32, n)
	for i := 0; i < n; i++ {
		dBasisDX[i] = (plusX[i] - minusX[i]) / (2 * eps)
		dBasisDY[i] = (plusY[i] - minusY[i]) / (2 * eps)
		dBasisDZ[i] = (plusZ[i] - minusZ[i]) / (2 * eps)
	}
	return
}

// evalSHBackward computes the gradient of coeffs (transposed basis
// evaluation, §4.10: "SH gradients use the transposed basis evaluation")
// and of the input direction, given the upstream color gradient dRGB and
// the forward coefficients (needed for the direction gradient's chain
// through the basis functions). coeffGrad must have length
// SHCoeffsForDegree(degree)*3 and is accumulated into (not overwritten),
// matching the atomic-accumulate contract of the forward/backward pair.
func evalSHBackward(degree int, dirX, dirY, dirZ float32, coeffs []float32, dR, dG, dB float32, coeffGrad []float32) (dDirX, dDirY, dDirZ float32) {
	basis := shBasis(degree, dirX, dirY, dirZ)
	for i, bv := range basis {
		coeffGrad[i*3+0] += bv * dR
		coeffGrad[i*3+1] += bv * dG
		coeffGrad[i*3+2] += bv * dB
	}

	dBasisDX, dBasisDY, dBasisDZ := shBasisDirGrad(degree, dirX, dirY, dirZ)
	for i := range basis {
		cr, cg, cb := coeffs[i*3+0], coeffs[i*3+1], coeffs[i*3+2]
		dColorDX := cr*dBasisDX[i]*dR + cg*dBasisDX[i]*dG + cb*dBasisDX[i]*dB
		dColorDY := cr*dBasisDY[i]*dR + cg*dBasisDY[i]*dG + cb*dBasisDY[i]*dB
		dColorDZ := cr*dBasisDZ[i]*dR + cg*dBasisDZ[i]*dG + cb*dBasisDZ[i]*dB
		dDirX += dColorDX
		dDirY += dColorDY
		dDirZ += dColorDZ
	}
	return dDirX, dDirY, dDirZ
}
