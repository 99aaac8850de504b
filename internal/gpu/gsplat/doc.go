// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gsplat implements the differentiable rasterization core of a
// 3D-Gaussian-splat renderer: project-and-cull, depth sort, project-visible,
// prefix-sum, map-to-intersects, tile sort, tile offsets, forward
// rasterize, backward rasterize, and project-backward.
//
// Render, RenderChunked and Backward run all ten stages as a pure-Go CPU
// reference (always compiled) that operates on plain slices; this is what
// the package's tests exercise. The GPU dispatch path (compute.go,
// build-tagged !nogpu) has kernels for four stages only (project-and-cull,
// project-visible, forward rasterize, backward rasterize), each submitted
// as its own dispatch; the caller orchestrates them and the scan/sort
// stages from internal/gpu/scan and internal/gpu/radixsort. These kernels
// use simplified math and do not match the CPU reference: culling has no
// screen-extent test, project-visible uses an isotropic conic, plain
// sigmoid opacity and band-0 color and counts every tile of the bounding
// box, and neither rasterize kernel applies the background color.
package gsplat
