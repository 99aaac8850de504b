// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package scan implements a multi-level prefix-sum (exclusive scan) over
// unsigned 32-bit integers.
//
// The algorithm is a textbook three-pass hierarchical scan: each block of
// BlockSize elements is scanned independently, the per-block totals are
// themselves scanned, and the scanned block totals are added back into
// every element of their block. On a GPU each pass is one dispatch
// (block scan, block-sums scan, block add); this package also exposes a
// pure-Go reference implementation of the same three passes so the
// algorithm can run and be tested without a GPU.
package scan
