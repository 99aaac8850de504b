// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import "errors"

// Sentinel errors for the programmer-error class of failure (§7): mismatched
// buffer lengths and missing auxiliary state are caller mistakes, reported
// as errors rather than panics since this package is a library entry point.
var (
	// ErrLengthMismatch is returned when parallel splat-parameter arrays
	// (mean, log_scale, quat, raw_opacity, sh_coeffs) do not share a
	// common length.
	ErrLengthMismatch = errors.New("gsplat: splat parameter arrays have mismatched lengths")

	// ErrMissingAux is returned by Backward when the render aux bundle is
	// nil or was produced by a call that did not set KeepAuxForBackward.
	ErrMissingAux = errors.New("gsplat: backward requires render aux from a forward call with KeepAuxForBackward")

	// ErrImageTooLarge is returned by Render when the requested image
	// exceeds the single-chunk size limit; callers with larger images
	// must use RenderChunked.
	ErrImageTooLarge = errors.New("gsplat: image exceeds single-chunk limit, use RenderChunked")

	// ErrInvalidSHDegree is returned when sh_degree is outside [0, 4].
	ErrInvalidSHDegree = errors.New("gsplat: sh_degree must be in [0, 4]")

	// ErrGradientMismatch is returned by Backward when dL/dImage does not
	// match the image size recorded in the aux bundle.
	ErrGradientMismatch = errors.New("gsplat: dL/dImage length does not match aux image size")

	// ErrDeviceRequired is returned by NewGPURenderer when constructed
	// without a device provider.
	ErrDeviceRequired = errors.New("gsplat: GPU renderer requires a device provider")
)
