// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

// TileSize is the edge length, in pixels, of one rasterization tile and
// the workgroup dimension of the forward/backward rasterize stages.
const TileSize = 16

// TileArea is the number of pixels per tile (16x16).
const TileArea = TileSize * TileSize

// TilesPerSide bounds a single rendering chunk to TilesPerSide x
// TilesPerSide tiles (<= 1024x1024 px), per the chunked-rendering
// supplement grounded on render.rs's iter_chunks.
const TilesPerSide = 64

// ChunkSizePixels is the maximum edge length, in pixels, of one rendering
// chunk.
const ChunkSizePixels = TilesPerSide * TileSize

// ZNear and ZFar bound the accepted view-space depth range in
// project-and-cull; splats outside are culled.
const (
	ZNear = 0.01
	ZFar  = 1e10
)

// QuatNormSqMin is the minimum squared quaternion norm accepted before a
// splat is treated as degenerate and culled.
const QuatNormSqMin = 1e-6

// OpacityFloor is the minimum opacity below which a splat contributes less
// than one quantization step to an 8-bit channel and is invisible.
const OpacityFloor = 1.0 / 255.0

// CovBlur is the diagonal blur added to the 2D covariance to avoid
// singularities for needle-thin splats.
const CovBlur = 0.3

// FrustumClipPos and FrustumClipNeg bound the projected uv used when
// computing the perspective-projection Jacobian, clipping to a wider
// region than the visible frustum to avoid exploding gradients near the
// image edges.
const (
	FrustumClipPos = 1.15
	FrustumClipNeg = 0.15
)

// TransmittanceFloor is the transmittance below which the forward/backward
// rasterize loops stop accumulating further splats for a pixel.
const TransmittanceFloor = 1e-4

// AlphaClamp is the maximum per-splat alpha used during blending.
const AlphaClamp = 0.999

// RasterBatchSize is a batch size, in projected splats, for staging splats
// in workgroup-local memory during rasterization. Neither the CPU
// rasterizer nor the WGSL rasterize kernels in this package use it: both
// read each splat of a tile's range directly.
const RasterBatchSize = 256

// IntersectsUpperBound bounds the default max_intersects heuristic
// (min(num_tiles*num_visible, IntersectsUpperBound)) so that scenes with
// many splats and many tiles do not request an unbounded buffer by
// default.
const IntersectsUpperBound = 1 << 28

// MaxSHBands is the highest supported spherical-harmonic degree (5 bands,
// 0..4).
const MaxSHBands = 4
