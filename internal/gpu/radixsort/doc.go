// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package radixsort implements a stable least-significant-digit radix sort
// over (key uint32, value uint32) pairs.
//
// Keys are sorted 4 bits at a time across up to 8 passes (32 bits total);
// callers needing fewer bits of precision (e.g. sorting by a 16-bit tile
// id) pass a smaller bit count to skip the remaining passes. Each pass is,
// on a GPU, five dispatches: a per-workgroup histogram over 16 digit bins
// (count), a reduction of per-workgroup histograms into per-bin totals
// (reduce), an exclusive scan of those totals (scan), a scan_add
// carry-propagation step, and a scatter that writes each element to its
// sorted position using the scanned offsets. This package also exposes a
// pure-Go reference sort implementing the same digit-pass structure so the
// algorithm runs and can be tested without a GPU.
package radixsort
