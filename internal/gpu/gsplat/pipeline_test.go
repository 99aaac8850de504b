// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import (
	"math"
	"testing"
)

func identityCamera(w, h int) *Camera {
	return &Camera{
		ViewMat:    [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
		FocalX:     500,
		FocalY:     500,
		PrincipalX: float32(w) / 2,
		PrincipalY: float32(h) / 2,
		ImgWidth:   w,
		ImgHeight:  h,
		Background: [3]float32{0, 0, 0},
	}
}

func singleSplat(meanZ float32, raw float32) *SplatParams {
	return &SplatParams{
		Mean:       []float32{0, 0, meanZ},
		LogScale:   []float32{-3, -3, -3},
		Quat:       []float32{1, 0, 0, 0},
		RawOpacity: []float32{raw},
		SHCoeffs:   []float32{0.5, 0.5, 0.5},
		SHDegree:   0,
	}
}

func TestRenderEmptyScene(t *testing.T) {
	params := &SplatParams{SHDegree: 0}
	cam := identityCamera(16, 16)
	cam.Background = [3]float32{0.2, 0.3, 0.4}
	img, aux, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if aux.NumVisible != 0 {
		t.Fatalf("NumVisible = %d, want 0", aux.NumVisible)
	}
	for i := 0; i < 16*16; i++ {
		if img.RGB[i*3+0] != cam.Background[0] || img.RGB[i*3+1] != cam.Background[1] || img.RGB[i*3+2] != cam.Background[2] {
			t.Fatalf("pixel %d = %v, want background %v", i, img.RGB[i*3:i*3+3], cam.Background)
		}
	}
}

func TestRenderSplatBehindCamera(t *testing.T) {
	params := singleSplat(-1.0, 6)
	cam := identityCamera(16, 16)
	_, aux, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if aux.NumVisible != 0 {
		t.Fatalf("NumVisible = %d, want 0 for splat behind camera", aux.NumVisible)
	}
}

func TestRenderZeroQuatCulled(t *testing.T) {
	params := singleSplat(1.0, 6)
	params.Quat = []float32{0, 0, 0, 0}
	cam := identityCamera(16, 16)
	_, aux, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if aux.NumVisible != 0 {
		t.Fatalf("NumVisible = %d, want 0 for zero quaternion", aux.NumVisible)
	}
}

func TestRenderIsotropicWhiteSplat(t *testing.T) {
	params := singleSplat(1.0, 6)
	white := ChannelToSH(1.0)
	params.SHCoeffs = []float32{white, white, white}
	cam := identityCamera(32, 32)
	img, _, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	centerIdx := 16*32 + 16
	centerSum := img.RGB[centerIdx*3+0] + img.RGB[centerIdx*3+1] + img.RGB[centerIdx*3+2]
	if centerSum/3 < 0.99 {
		t.Errorf("center pixel = %v, want near 1.0", img.RGB[centerIdx*3:centerIdx*3+3])
	}

	cornerIdx := 0
	cornerSum := img.RGB[cornerIdx*3+0] + img.RGB[cornerIdx*3+1] + img.RGB[cornerIdx*3+2]
	if cornerSum/3 > 0.01 {
		t.Errorf("corner pixel = %v, want near 0.0", img.RGB[cornerIdx*3:cornerIdx*3+3])
	}
}

func TestRenderDepthOrder(t *testing.T) {
	params := &SplatParams{
		Mean:       []float32{0, 0, 1, 0, 0, 2},
		LogScale:   []float32{-3, -3, -3, -3, -3, -3},
		Quat:       []float32{1, 0, 0, 0, 1, 0, 0, 0},
		RawOpacity: []float32{6, 6},
		SHCoeffs:   []float32{0.5, -0.5, -0.5, -0.5, -0.5, 0.5},
		SHDegree:   0,
	}
	cam := identityCamera(32, 32)
	img, _, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	centerIdx := 16*32 + 16
	r, g, b := img.RGB[centerIdx*3+0], img.RGB[centerIdx*3+1], img.RGB[centerIdx*3+2]
	if !(r > g && r > b) {
		t.Errorf("center pixel = (%v,%v,%v), want red-dominant (front splat wins)", r, g, b)
	}
}

func TestRenderGridNoMissingTiles(t *testing.T) {
	const n = 16 * 16
	params := &SplatParams{
		Mean:       make([]float32, n*3),
		LogScale:   make([]float32, n*3),
		Quat:       make([]float32, n*4),
		RawOpacity: make([]float32, n),
		SHCoeffs:   make([]float32, n*3),
		SHDegree:   0,
	}
	idx := 0
	for gy := 0; gy < 16; gy++ {
		for gx := 0; gx < 16; gx++ {
			x := (float32(gx) - 7.5) * 0.06
			y := (float32(gy) - 7.5) * 0.06
			params.Mean[idx*3+0] = x
			params.Mean[idx*3+1] = y
			params.Mean[idx*3+2] = 1.0
			params.LogScale[idx*3+0] = -4
			params.LogScale[idx*3+1] = -4
			params.LogScale[idx*3+2] = -4
			params.Quat[idx*4+0] = 1
			params.RawOpacity[idx] = 6
			params.SHCoeffs[idx*3+0] = 0.2
			params.SHCoeffs[idx*3+1] = 0.2
			params.SHCoeffs[idx*3+2] = 0.2
			idx++
		}
	}

	cam := identityCamera(256, 256)
	cam.FocalX, cam.FocalY = 200, 200
	img, aux, err := Render(params, cam, &RenderOpts{Format: OutputRGB, DebugValidation: true})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if aux.NumVisible != n {
		t.Errorf("NumVisible = %d, want %d", aux.NumVisible, n)
	}
	// Splat (gx, gy) projects to pixel (38+12*gx, 38+12*gy); each one must
	// show up in the tile that contains it.
	for gy := 0; gy < 16; gy++ {
		for gx := 0; gx < 16; gx++ {
			px, py := 38+12*gx, 38+12*gy
			i := py*256 + px
			if img.RGB[i*3] < 0.1 {
				t.Errorf("splat (%d,%d) missing from its tile: pixel (%d,%d) = %v", gx, gy, px, py, img.RGB[i*3:i*3+3])
			}
		}
	}
}

func TestRenderSaturation(t *testing.T) {
	const n = 100
	params := &SplatParams{
		Mean:       make([]float32, n*3),
		LogScale:   make([]float32, n*3),
		Quat:       make([]float32, n*4),
		RawOpacity: make([]float32, n),
		SHCoeffs:   make([]float32, n*3),
		SHDegree:   0,
	}
	for i := 0; i < n; i++ {
		params.Mean[i*3+0] = 0
		params.Mean[i*3+1] = 0
		params.Mean[i*3+2] = 1.0 + float32(i)*0.001
		params.LogScale[i*3+0] = -2
		params.LogScale[i*3+1] = -2
		params.LogScale[i*3+2] = -2
		params.Quat[i*4+0] = 1
		params.RawOpacity[i] = 1.0
		params.SHCoeffs[i*3+0] = 0.3
		params.SHCoeffs[i*3+1] = 0.3
		params.SHCoeffs[i*3+2] = 0.3
	}
	cam := identityCamera(16, 16)
	img, aux, err := Render(params, cam, &RenderOpts{Format: OutputRGBD})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	centerIdx := 8*16 + 8
	alpha := img.RGB[centerIdx*4+3]
	if alpha < 0.99 {
		t.Errorf("center alpha = %v, want >= 0.99 after 100 overlapping splats", alpha)
	}
	_ = aux
}

func TestRenderBackgroundPremultiplication(t *testing.T) {
	params := singleSplat(1.0, 2) // partial opacity so T_final isn't ~0
	cam0 := identityCamera(16, 16)
	cam0.Background = [3]float32{0, 0, 0}
	img0, _, err := Render(params, cam0, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	cam1 := identityCamera(16, 16)
	cam1.Background = [3]float32{1, 1, 1}
	img1, aux1, err := Render(params, cam1, &RenderOpts{Format: OutputRGB, KeepAuxForBackward: true})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	centerIdx := 8*16 + 8
	diff := img1.RGB[centerIdx*3+0] - img0.RGB[centerIdx*3+0]
	tFinal := aux1.FinalTransmittance[centerIdx]
	if math.Abs(float64(diff-tFinal)) > 1e-4 {
		t.Errorf("background premultiplication: diff=%v, want T_final=%v", diff, tFinal)
	}
}

func TestBackwardRequiresAux(t *testing.T) {
	params := singleSplat(1.0, 6)
	cam := identityCamera(16, 16)
	_, err := Backward(params, cam, &RenderOpts{}, nil, nil)
	if err != ErrMissingAux {
		t.Errorf("Backward with nil aux: got %v, want ErrMissingAux", err)
	}
}

func TestBackwardGradientMismatch(t *testing.T) {
	params := singleSplat(1.0, 6)
	cam := identityCamera(8, 8)
	opts := &RenderOpts{Format: OutputRGB, KeepAuxForBackward: true}
	_, aux, err := Render(params, cam, opts)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	_, err = Backward(params, cam, opts, aux, make([]float32, 3))
	if err == nil {
		t.Fatal("Backward with mismatched dL/dImage: want error")
	}
}

func TestBackwardFiniteDifferenceAgreement(t *testing.T) {
	const n = 8
	params := &SplatParams{
		Mean:       make([]float32, n*3),
		LogScale:   make([]float32, n*3),
		Quat:       make([]float32, n*4),
		RawOpacity: make([]float32, n),
		SHCoeffs:   make([]float32, n*3),
		SHDegree:   0,
	}
	for i := 0; i < n; i++ {
		params.Mean[i*3+0] = (float32(i%4) - 1.5) * 0.05
		params.Mean[i*3+1] = (float32(i/4) - 0.5) * 0.05
		params.Mean[i*3+2] = 1.0
		params.LogScale[i*3+0] = -4.0
		params.LogScale[i*3+1] = -4.0
		params.LogScale[i*3+2] = -4.0
		params.Quat[i*4+0] = 1
		params.RawOpacity[i] = 1.0
		params.SHCoeffs[i*3+0] = 0.3
		params.SHCoeffs[i*3+1] = 0.1
		params.SHCoeffs[i*3+2] = -0.1
	}

	// 128 px keeps every splat's 1/255 alpha-cutoff ring inside the image,
	// so the finite difference does not pick up a one-sided cutoff jump
	// at the image border that the analytic gradient has no term for.
	cam := identityCamera(128, 128)
	cam.FocalX, cam.FocalY = 300, 300
	opts := &RenderOpts{Format: OutputRGB, KeepAuxForBackward: true}

	renderLuminance := func(p *SplatParams) float64 {
		img, _, err := Render(p, cam, &RenderOpts{Format: OutputRGB})
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		var sum float64
		for _, v := range img.RGB {
			sum += float64(v)
		}
		return sum
	}

	img, aux, err := Render(params, cam, opts)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	dLdImage := make([]float32, len(img.RGB))
	for i := range dLdImage {
		dLdImage[i] = 1.0
	}
	grads, err := Backward(params, cam, opts, aux, dLdImage)
	if err != nil {
		t.Fatalf("Backward: %v", err)
	}

	const eps = 1e-3
	splatIdx := 0
	for axis := 0; axis < 3; axis++ {
		plus := cloneParams(params)
		minus := cloneParams(params)
		plus.Mean[splatIdx*3+axis] += eps
		minus.Mean[splatIdx*3+axis] -= eps

		fd := (renderLuminance(plus) - renderLuminance(minus)) / (2 * eps)
		analytic := float64(grads.Mean[splatIdx*3+axis])

		if math.Abs(fd) > 1e-2 {
			relErr := math.Abs(analytic-fd) / math.Abs(fd)
			if relErr > 0.5 {
				t.Errorf("mean axis %d: analytic=%v, finite-diff=%v, rel err=%v", axis, analytic, fd, relErr)
			}
		}
	}
}

func cloneParams(p *SplatParams) *SplatParams {
	return &SplatParams{
		Mean:       append([]float32(nil), p.Mean...),
		LogScale:   append([]float32(nil), p.LogScale...),
		Quat:       append([]float32(nil), p.Quat...),
		RawOpacity: append([]float32(nil), p.RawOpacity...),
		SHCoeffs:   append([]float32(nil), p.SHCoeffs...),
		SHDegree:   p.SHDegree,
	}
}

func TestRenderForwardIdempotent(t *testing.T) {
	params := singleSplat(1.0, 4)
	cam := identityCamera(16, 16)
	img1, _, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img2, _, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := range img1.RGB {
		if img1.RGB[i] != img2.RGB[i] {
			t.Fatalf("forward not idempotent at index %d: %v != %v", i, img1.RGB[i], img2.RGB[i])
		}
	}
}

func TestRenderLengthMismatch(t *testing.T) {
	params := &SplatParams{
		Mean:       []float32{0, 0, 1},
		LogScale:   []float32{-3, -3, -3},
		Quat:       []float32{1, 0, 0, 0},
		RawOpacity: []float32{6, 6}, // mismatched length
		SHCoeffs:   []float32{0.5, 0.5, 0.5},
		SHDegree:   0,
	}
	cam := identityCamera(16, 16)
	_, _, err := Render(params, cam, &RenderOpts{})
	if err != ErrLengthMismatch {
		t.Errorf("Render with mismatched arrays: got %v, want ErrLengthMismatch", err)
	}
}

func TestRenderImageTooLarge(t *testing.T) {
	params := singleSplat(1.0, 6)
	cam := identityCamera(2048, 2048)
	_, _, err := Render(params, cam, &RenderOpts{})
	if err != ErrImageTooLarge {
		t.Errorf("Render with oversized image: got %v, want ErrImageTooLarge", err)
	}
}

func TestRenderChunkedMatchesSingleChunkForSmallImage(t *testing.T) {
	params := singleSplat(1.0, 6)
	cam := identityCamera(32, 32)
	img1, _, err := Render(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	img2, _, err := RenderChunked(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("RenderChunked: %v", err)
	}
	for i := range img1.RGB {
		if math.Abs(float64(img1.RGB[i]-img2.RGB[i])) > 1e-5 {
			t.Fatalf("RenderChunked diverges from Render at index %d: %v != %v", i, img1.RGB[i], img2.RGB[i])
		}
	}
}

func TestRenderChunkedLargeImage(t *testing.T) {
	params := singleSplat(1.0, 6)
	white := ChannelToSH(1.0)
	params.SHCoeffs = []float32{white, white, white}
	cam := identityCamera(1536, 1536)
	cam.FocalX, cam.FocalY = 2000, 2000
	cam.PrincipalX, cam.PrincipalY = 768, 768
	img, aux, err := RenderChunked(params, cam, &RenderOpts{Format: OutputRGB})
	if err != nil {
		t.Fatalf("RenderChunked: %v", err)
	}
	if aux.NumVisible != 1 {
		t.Fatalf("NumVisible = %d, want 1", aux.NumVisible)
	}
	centerIdx := 768*1536 + 768
	sum := img.RGB[centerIdx*3+0] + img.RGB[centerIdx*3+1] + img.RGB[centerIdx*3+2]
	if sum/3 < 0.9 {
		t.Errorf("center pixel sum/3 = %v, want near 1.0", sum/3)
	}
}
