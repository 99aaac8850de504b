// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// SplatParams holds the persistent, per-point attributes of a scene (§3).
// All slices must share a common length N (the point count); Render and
// Backward return ErrLengthMismatch if they do not.
type SplatParams struct {
	// Mean is the world-space position, 3 floats per splat
	// (x0,y0,z0, x1,y1,z1, ...).
	Mean []float32

	// LogScale is the log of the per-axis scale; Scale = exp(LogScale),
	// 3 floats per splat.
	LogScale []float32

	// Quat is the rotation as (w,x,y,z), 4 floats per splat. A quaternion
	// with squared norm below QuatNormSqMin culls the splat.
	Quat []float32

	// RawOpacity is the pre-sigmoid opacity, 1 float per splat.
	// Opacity = sigmoid(RawOpacity).
	RawOpacity []float32

	// SHCoeffs is (SHDegree+1)^2 RGB triples per splat, flattened as
	// [splat][coeff][channel]. Band 0 is the diffuse term.
	SHCoeffs []float32

	// SHDegree is the active spherical-harmonic band count minus one,
	// in [0, MaxSHBands].
	SHDegree int
}

// Len returns the splat count N, or -1 if the parallel arrays disagree.
func (p *SplatParams) Len() int {
	n := len(p.Mean) / 3
	coeffsPerSplat := SHCoeffsForDegree(p.SHDegree)
	switch {
	case len(p.Mean) != n*3,
		len(p.LogScale) != n*3,
		len(p.Quat) != n*4,
		len(p.RawOpacity) != n,
		len(p.SHCoeffs) != n*coeffsPerSplat*3:
		return -1
	}
	return n
}

// Camera holds the immutable-within-a-render camera/render uniforms (§3).
type Camera struct {
	// ViewMat is the 4x4 world->view matrix, row-major, 16 floats.
	ViewMat [16]float32

	// FocalX, FocalY are the pixel-space focal lengths.
	FocalX, FocalY float32

	// PrincipalX, PrincipalY are the pixel-space principal point
	// (cx, cy).
	PrincipalX, PrincipalY float32

	// ImgWidth, ImgHeight are the image dimensions in pixels.
	ImgWidth, ImgHeight int

	// Background is the RGB color composited behind the final image.
	Background [3]float32
}

// TileBoundsX returns ceil(ImgWidth/TileSize).
func (c *Camera) TileBoundsX() int { return (c.ImgWidth + TileSize - 1) / TileSize }

// TileBoundsY returns ceil(ImgHeight/TileSize).
func (c *Camera) TileBoundsY() int { return (c.ImgHeight + TileSize - 1) / TileSize }

// WorldPos returns the camera's world-space position, the inverse
// translation component of ViewMat for a rigid transform.
func (c *Camera) WorldPos() [3]float32 {
	// ViewMat = [R t; 0 1] maps world -> view, so the camera's world
	// position is -R^T t.
	var r [3][3]float32
	var t [3]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = c.ViewMat[i*4+j]
		}
		t[i] = c.ViewMat[i*4+3]
	}
	var pos [3]float32
	for i := 0; i < 3; i++ {
		var sum float32
		for j := 0; j < 3; j++ {
			sum += r[j][i] * t[j]
		}
		pos[i] = -sum
	}
	return pos
}

// RenderMode selects among the supported 2D covariance / color policies.
type RenderMode int

const (
	// RenderModeClassic implements the math of spec.md §4 exactly.
	RenderModeClassic RenderMode = iota

	// RenderModeMip adds a minimum screen-space covariance floor
	// (MipSplatFloor) to reduce aliasing on very small or distant
	// splats (render.rs's SplatRenderMode::Mip).
	RenderModeMip
)

// OutputFormat selects the pixel encoding Render produces.
type OutputFormat int

const (
	// OutputRGB packs float32 RGB triples, no alpha channel.
	OutputRGB OutputFormat = iota

	// OutputRGBD packs float32 RGBA (alpha = 1 - T_final).
	OutputRGBD

	// OutputPackedU32 packs 8-bit RGBA into one uint32 per pixel:
	// R | G<<8 | B<<16 | A<<24.
	OutputPackedU32
)

// RenderOpts configures a single Render/RenderChunked call (§6).
type RenderOpts struct {
	// Format selects the output pixel encoding.
	Format OutputFormat

	// RenderMode selects the covariance/color policy.
	RenderMode RenderMode

	// MipSplatFloor is the minimum screen-space covariance diagonal
	// added in RenderModeMip; ignored otherwise.
	MipSplatFloor float32

	// KeepAuxForBackward, when true, retains the buffers Backward needs
	// (ProjectedSplats, GlobalFromCompactGID, TileOffsets,
	// CompactGIDFromIsect) instead of releasing them at the end of
	// Render.
	KeepAuxForBackward bool

	// MaxIntersects caps the total (tile, splat) intersection count M.
	// Zero selects the default heuristic: min(num_tiles*num_visible,
	// IntersectsUpperBound).
	MaxIntersects uint32

	// DebugValidation enables invariant assertions: Render checks I1 (ids
	// in range and not repeated), I2 and I4 once after the forward pass,
	// and Backward re-checks that the ids are in range. I3 and I5 are not
	// checked, and RenderChunked runs no validation.
	DebugValidation bool
}

// ProjectedSplat is the packed per-survivor projection output of stage 3
// (§4.3): 2D mean, conic (inverse 2D covariance upper-triangular: xx, xy,
// yy), color, and opacity.
type ProjectedSplat struct {
	MeanX, MeanY          float32
	ConicXX, ConicXY, ConicYY float32
	R, G, B               float32
	Opacity               float32
}

// RenderAux carries the buffers that survive from Render into Backward
// (§3, §6).
type RenderAux struct {
	// NumVisible is the number of survivors of project-and-cull.
	NumVisible int

	// GlobalFromCompactGID maps compact index -> original splat index,
	// after depth sorting.
	GlobalFromCompactGID []uint32

	// ProjectedSplats holds the stage-3 output in compact order.
	ProjectedSplats []ProjectedSplat

	// TileOffsets holds the per-tile [begin,end) ranges into
	// CompactGIDFromIsect; length TileBoundsX*TileBoundsY + 1.
	TileOffsets []uint32

	// CompactGIDFromIsect holds one compact id per (tile, splat)
	// intersection, sorted by tile id (stage 6/7 output).
	CompactGIDFromIsect []uint32

	// FinalTransmittance holds, per pixel, the transmittance remaining
	// after the forward walk (T_final = 1 - alpha_out).
	FinalTransmittance []float32

	// FinalIndex holds, per pixel, the index into CompactGIDFromIsect one
	// past the last intersection the forward walk visited before it
	// stopped (§4.9 "final_index").
	FinalIndex []uint32

	// ImgWidth, ImgHeight record the rendered image size so Backward can
	// validate dL/dImage's length.
	ImgWidth, ImgHeight int

	// TileBoundsX, TileBoundsY record the tile grid used, needed to
	// re-derive per-tile ranges in backward.
	TileBoundsX, TileBoundsY int

	// totalSplats records N for permutation-integrity validation.
	totalSplats int
}

// SplatGrads holds per-global-id gradients produced by Backward, in the
// same shape as SplatParams (§3, §4.10).
type SplatGrads struct {
	Mean       []float32
	LogScale   []float32
	Quat       []float32
	RawOpacity []float32
	SHCoeffs   []float32

	// RefineWeight is an auxiliary per-splat scalar: the magnitude of the
	// screen-space positional gradient, used by training-time
	// densification heuristics (render_bwd.rs's v_refine_weight). Not
	// part of the classic spec.md contract; exposed because backward
	// already computes the quantities it derives from.
	RefineWeight []float32
}

// Image is the rendered output of Render/RenderChunked.
type Image struct {
	Width, Height int
	Format        OutputFormat

	// RGB holds float32 triples when Format is OutputRGB or OutputRGBD
	// (alpha appended as a 4th float for OutputRGBD).
	RGB []float32

	// Packed holds one uint32 per pixel when Format is OutputPackedU32.
	Packed []uint32
}
