// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package gsplat

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"
)

func compileOrSkip(t *testing.T, name, src string) {
	t.Helper()
	spirv, err := naga.Compile(src)
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "not yet implemented"),
			strings.Contains(errStr, "not supported"),
			strings.Contains(errStr, "atomic"),
			strings.Contains(errStr, "lowering error"):
			t.Skipf("naga limitation compiling %s: %v", name, err)
		default:
			t.Fatalf("failed to compile %s: %v", name, err)
		}
		return
	}
	if len(spirv) < 4 {
		t.Fatalf("%s: SPIR-V output too short", name)
	}
	magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
	if magic != 0x07230203 {
		t.Errorf("%s: invalid SPIR-V magic 0x%08X", name, magic)
	}
}

func TestGsplatShadersCompile(t *testing.T) {
	compileOrSkip(t, "project_and_cull.wgsl", shaderProjectAndCull)
	compileOrSkip(t, "project_visible.wgsl", shaderProjectVisible)
	compileOrSkip(t, "rasterize_forward.wgsl", shaderRasterizeForward)
	compileOrSkip(t, "rasterize_backward.wgsl", shaderRasterizeBackward)
}
