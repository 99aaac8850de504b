// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gsplat

import (
	"fmt"
)

// Render runs the forward pipeline (stages 1-8, §4): projecting and
// culling splats, depth-sorting survivors, evaluating per-survivor color
// and tile footprint, binning intersections by tile, and alpha-compositing
// each pixel front-to-back.
//
// When opts.KeepAuxForBackward is true the returned aux bundle carries the
// buffers Backward needs; otherwise aux is still returned (so callers can
// inspect NumVisible) but lacks the per-intersection buffers.
func Render(params *SplatParams, cam *Camera, opts *RenderOpts) (*Image, *RenderAux, error) {
	if params.Len() < 0 {
		return nil, nil, ErrLengthMismatch
	}
	if params.SHDegree < 0 || params.SHDegree > MaxSHBands {
		return nil, nil, ErrInvalidSHDegree
	}
	if cam.ImgWidth > ChunkSizePixels || cam.ImgHeight > ChunkSizePixels {
		return nil, nil, ErrImageTooLarge
	}

	proj := projectAndCull(params, cam, opts)
	globalFromCompactGID, _ := depthSort(proj.GlobalID, proj.Depth)

	projected, splatIntersectCounts := projectVisible(params, cam, opts, globalFromCompactGID)
	splatCumHitCounts, totalIntersects := prefixSumIntersects(splatIntersectCounts)

	maxIntersects := opts.MaxIntersects
	if maxIntersects == 0 {
		maxIntersects = defaultMaxIntersects(cam, len(globalFromCompactGID))
	}

	tileBoundsX, tileBoundsY := cam.TileBoundsX(), cam.TileBoundsY()
	numTiles := tileBoundsX * tileBoundsY

	tileID, compactGID := mapToIntersects(projected, cam.ImgWidth, cam.ImgHeight, tileBoundsX, tileBoundsY, splatCumHitCounts, maxIntersects)
	sortedTileID, sortedCompactGID := tileSort(tileID, compactGID, numTiles)
	offsets := tileOffsets(sortedTileID, numTiles)

	outImg, finalTransmittance, finalIndex := rasterizeForward(projected, offsets, sortedCompactGID, cam.Background, cam.ImgWidth, cam.ImgHeight, tileBoundsX)

	if opts.DebugValidation {
		if err := validateForward(len(params.Mean)/3, globalFromCompactGID, splatIntersectCounts, totalIntersects, offsets); err != nil {
			return nil, nil, err
		}
	}

	img := packImage(outImg, finalTransmittance, cam.ImgWidth, cam.ImgHeight, opts.Format)

	aux := &RenderAux{
		NumVisible:         len(globalFromCompactGID),
		FinalTransmittance: finalTransmittance,
		FinalIndex:         finalIndex,
		ImgWidth:           cam.ImgWidth,
		ImgHeight:          cam.ImgHeight,
		TileBoundsX:        tileBoundsX,
		TileBoundsY:        tileBoundsY,
		totalSplats:        len(params.Mean) / 3,
	}
	if opts.KeepAuxForBackward {
		aux.GlobalFromCompactGID = globalFromCompactGID
		aux.ProjectedSplats = projected
		aux.TileOffsets = offsets
		aux.CompactGIDFromIsect = sortedCompactGID
	}

	return img, aux, nil
}

// Backward runs the backward pipeline (stage 9-10, §4.9-4.10): re-traces
// the forward alpha-compositing order for each pixel using the cached
// FinalTransmittance/FinalIndex, accumulates gradients on the 2D
// projection and color, and chains them back to the original splat
// parameters.
func Backward(params *SplatParams, cam *Camera, opts *RenderOpts, aux *RenderAux, dLdImage []float32) (*SplatGrads, error) {
	if params.Len() < 0 {
		return nil, ErrLengthMismatch
	}
	if aux == nil || aux.ProjectedSplats == nil || aux.TileOffsets == nil || aux.CompactGIDFromIsect == nil {
		return nil, ErrMissingAux
	}
	if len(dLdImage) != aux.ImgWidth*aux.ImgHeight*3 {
		return nil, fmt.Errorf("%w: got %d floats, want %d", ErrGradientMismatch, len(dLdImage), aux.ImgWidth*aux.ImgHeight*3)
	}
	if opts.DebugValidation {
		for _, g := range aux.GlobalFromCompactGID {
			if int(g) >= aux.totalSplats {
				return nil, fmt.Errorf("I1 violated: global id %d >= total_splats %d", g, aux.totalSplats)
			}
		}
	}

	ig := rasterizeBackward(aux.ProjectedSplats, aux.TileOffsets, aux.CompactGIDFromIsect, cam.Background, dLdImage, aux.FinalTransmittance, aux.FinalIndex, aux.ImgWidth, aux.ImgHeight, aux.TileBoundsX)

	return projectBackward(params, cam, opts, aux.GlobalFromCompactGID, ig), nil
}

// defaultMaxIntersects implements the §12 heuristic: min(num_tiles *
// num_visible, IntersectsUpperBound).
func defaultMaxIntersects(cam *Camera, numVisible int) uint32 {
	numTiles := uint64(cam.TileBoundsX()) * uint64(cam.TileBoundsY())
	bound := numTiles * uint64(numVisible)
	if bound > IntersectsUpperBound || bound == 0 {
		if numVisible == 0 {
			return 0
		}
		return IntersectsUpperBound
	}
	return uint32(bound)
}

// packImage converts the float32 RGB accumulation buffer into the
// requested output encoding (§6's wire layout for OutputPackedU32).
func packImage(outImg, finalTransmittance []float32, imgW, imgH int, format OutputFormat) *Image {
	img := &Image{Width: imgW, Height: imgH, Format: format}
	n := imgW * imgH

	switch format {
	case OutputPackedU32:
		img.Packed = make([]uint32, n)
		for i := 0; i < n; i++ {
			r := clampByte(outImg[i*3+0])
			g := clampByte(outImg[i*3+1])
			b := clampByte(outImg[i*3+2])
			a := clampByte(1 - finalTransmittance[i])
			img.Packed[i] = uint32(r) | uint32(g)<<8 | uint32(b)<<16 | uint32(a)<<24
		}
	case OutputRGBD:
		img.RGB = make([]float32, n*4)
		for i := 0; i < n; i++ {
			img.RGB[i*4+0] = outImg[i*3+0]
			img.RGB[i*4+1] = outImg[i*3+1]
			img.RGB[i*4+2] = outImg[i*3+2]
			img.RGB[i*4+3] = 1 - finalTransmittance[i]
		}
	default: // OutputRGB
		img.RGB = outImg
	}
	return img
}

func clampByte(v float32) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint32(v*255 + 0.5)
}

// validateForward implements the debug-validation invariant checks I1
// (ids in range and not repeated), I2 and I4 (§7's "debug-validation
// feature"), returning a wrapped error naming the first violated
// invariant. I3 and I5 are not checked.
func validateForward(totalSplats int, globalFromCompactGID []uint32, splatIntersectCounts []uint32, totalIntersects uint32, tileOffsets []uint32) error {
	seen := make(map[uint32]bool, len(globalFromCompactGID))
	for _, g := range globalFromCompactGID {
		if int(g) >= totalSplats {
			return fmt.Errorf("I1 violated: global id %d >= total_splats %d", g, totalSplats)
		}
		if seen[g] {
			return fmt.Errorf("I1 violated: duplicate global id %d in global_from_compact_gid", g)
		}
		seen[g] = true
	}

	var sum uint32
	for _, c := range splatIntersectCounts {
		sum += c
	}
	if sum != totalIntersects {
		return fmt.Errorf("I2 violated: sum(splat_intersect_counts)=%d != total_intersects=%d", sum, totalIntersects)
	}

	for i := 1; i < len(tileOffsets); i++ {
		if tileOffsets[i] < tileOffsets[i-1] {
			return fmt.Errorf("I4 violated: tile_offsets not non-decreasing at %d", i)
		}
	}
	return nil
}
