// Copyright 2026 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU backend for Kiln.
//
// WebGPU is a cross-platform graphics and compute API that works on
// Windows (D3D12), macOS (Metal), and Linux (Vulkan). The backend
// keeps tensors in pooled device buffers and image tiles, and
// converts layouts with compute kernels.
//
// Example:
//
//	reg := backend.NewRegistry()
//	webgpu.Register(reg)
//
//	rt, err := reg.CreateRuntime(&backend.Info{Type: backend.ForwardWebGPU})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
package webgpu

import (
	"github.com/kiln-ml/kiln/internal/backend"
	internalwebgpu "github.com/kiln-ml/kiln/internal/backend/webgpu"
)

// Runtime is the WebGPU runtime implementation.
type Runtime = internalwebgpu.Runtime

// Backend is the WebGPU backend implementation.
type Backend = internalwebgpu.Backend

// Creator builds WebGPU runtimes for the backend registry.
type Creator = internalwebgpu.Creator

// Compile-time checks against the backend contract.
var (
	_ backend.Runtime        = (*Runtime)(nil)
	_ backend.Backend        = (*Backend)(nil)
	_ backend.Compactor      = (*Backend)(nil)
	_ backend.RuntimeCreator = Creator{}
)

// Register installs the WebGPU creator into a registry.
func Register(r *backend.Registry) bool {
	return internalwebgpu.Register(r)
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
