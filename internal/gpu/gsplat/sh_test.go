// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestSHCoeffsForDegree(t *testing.T) {
	cases := []struct {
		degree int
		want   int
	}{{0, 1}, {1, 4}, {2, 9}, {3, 16}, {4, 25}}
	for _, c := range cases {
		if got := SHCoeffsForDegree(c.degree); got != c.want {
			t.Errorf("SHCoeffsForDegree(%d) = %d, want %d", c.degree, got, c.want)
		}
	}
}

func TestSHDegreeFromCoeffs(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{{1, 0}, {4, 1}, {9, 2}, {16, 3}, {25, 4}, {5, -1}}
	for _, c := range cases {
		if got := SHDegreeFromCoeffs(c.n); got != c.want {
			t.Errorf("SHDegreeFromCoeffs(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestRGBToSHRoundTrip(t *testing.T) {
	r, g, b := float32(0.7), float32(0.2), float32(0.9)
	coeffs := RGBToSH(r, g, b)
	// Evaluating band-0 only: color = shC0*coeff + 0.5 for each channel,
	// using a degree-0 basis where shBasis(0,...) = [shC0].
	full := []float32{coeffs[0], coeffs[1], coeffs[2]}
	gotR, gotG, gotB := evalSH(0, 0, 0, 1, full)
	if !almostEqual(gotR, r, 1e-5) || !almostEqual(gotG, g, 1e-5) || !almostEqual(gotB, b, 1e-5) {
		t.Errorf("round trip = (%v,%v,%v), want (%v,%v,%v)", gotR, gotG, gotB, r, g, b)
	}
}

func TestLinearToSRGBMonotonic(t *testing.T) {
	prev := float32(-1)
	for v := float32(0); v <= 1; v += 0.05 {
		s := LinearToSRGB(v)
		if s < prev {
			t.Fatalf("LinearToSRGB not monotonic at %v: %v < %v", v, s, prev)
		}
		prev = s
	}
}

func TestLinearToSRGBKnownValue(t *testing.T) {
	// sRGB(1.0) == 1.0 exactly under the standard transfer function.
	if got := LinearToSRGB(1.0); !almostEqual(got, 1.0, 1e-5) {
		t.Errorf("LinearToSRGB(1.0) = %v, want 1.0", got)
	}
	if got := LinearToSRGB(0.0); got != 0.0 {
		t.Errorf("LinearToSRGB(0.0) = %v, want 0.0", got)
	}
}

func TestEvalSHBackwardMatchesFiniteDifference(t *testing.T) {
	degree := 2
	n := SHCoeffsForDegree(degree)
	coeffs := make([]float32, n*3)
	for i := range coeffs {
		coeffs[i] = float32(i) * 0.01
	}
	dirX, dirY, dirZ := float32(0.3), float32(0.4), float32(math.Sqrt(1 - 0.3*0.3 - 0.4*0.4))

	dR, dG, dB := float32(1.0), float32(0.5), float32(-0.25)

	grad := make([]float32, n*3)
	evalSHBackward(degree, dirX, dirY, dirZ, coeffs, dR, dG, dB, grad)

	const eps = 1e-3
	for i := 0; i < n*3; i++ {
		plus := append([]float32(nil), coeffs...)
		minus := append([]float32(nil), coeffs...)
		plus[i] += eps
		minus[i] -= eps

		rP, gP, bP := evalSH(degree, dirX, dirY, dirZ, plus)
		rM, gM, bM := evalSH(degree, dirX, dirY, dirZ, minus)

		lossP := rP*dR + gP*dG + bP*dB
		lossM := rM*dR + gM*dG + bM*dB
		fd := (lossP - lossM) / (2 * eps)

		if !almostEqual(grad[i], fd, 1e-2) {
			t.Errorf("coeff %d: analytic grad %v, finite-diff %v", i, grad[i], fd)
		}
	}
}
