// Copyright 2026 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package backend provides the public backend contract and runtime
// registry for Kiln.
//
// A Runtime owns device-global state and creates Backends; Backends
// own buffer lifecycles and execute operations. Concrete backends
// register a RuntimeCreator into a Registry, and callers create
// runtimes through it:
//
//	reg := backend.NewRegistry()
//	webgpu.Register(reg)
//
//	rt, err := reg.CreateRuntime(&backend.Info{Type: backend.ForwardWebGPU})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	be, err := rt.CreateBackend(nil)
package backend

import (
	"github.com/kiln-ml/kiln/internal/backend"
)

// Core contract types.
type (
	Backend        = backend.Backend
	Compactor      = backend.Compactor
	Runtime        = backend.Runtime
	RuntimeCreator = backend.RuntimeCreator
	Registry       = backend.Registry
	Info           = backend.Info
	Config         = backend.Config
)

// ForwardType identifies a backend implementation.
type ForwardType = backend.ForwardType

// Backend type constants.
const (
	ForwardCPU    ForwardType = backend.ForwardCPU
	ForwardWebGPU ForwardType = backend.ForwardWebGPU
	ForwardAuto   ForwardType = backend.ForwardAuto
)

// Mode selects how a backend turns recorded work into device work.
type Mode = backend.Mode

// Submission modes.
const (
	Direct   Mode = backend.Direct
	Indirect Mode = backend.Indirect
)

// StorageType states who controls the lifetime of an acquired buffer.
type StorageType = backend.StorageType

// Storage classes.
const (
	Static          StorageType = backend.Static
	Dynamic         StorageType = backend.Dynamic
	DynamicSeparate StorageType = backend.DynamicSeparate
)

// PrecisionMode selects the compute precision a backend should favor.
type PrecisionMode = backend.PrecisionMode

// Precision constants.
const (
	PrecisionNormal PrecisionMode = backend.PrecisionNormal
	PrecisionHigh   PrecisionMode = backend.PrecisionHigh
	PrecisionLow    PrecisionMode = backend.PrecisionLow
)

// MemoryMode trades memory footprint against speed.
type MemoryMode = backend.MemoryMode

// Memory mode constants.
const (
	MemoryNormal MemoryMode = backend.MemoryNormal
	MemoryHigh   MemoryMode = backend.MemoryHigh
	MemoryLow    MemoryMode = backend.MemoryLow
)

// CopyDirection tells CopyBuffer which way the bytes flow.
type CopyDirection = backend.CopyDirection

// Copy directions.
const (
	HostToDevice CopyDirection = backend.HostToDevice
	DeviceToHost CopyDirection = backend.DeviceToHost
)

// OpKind identifies an operation for Measure and capability checks.
type OpKind = backend.OpKind

// Operation kinds.
const (
	OpConvolution OpKind = backend.OpConvolution
	OpMatMul      OpKind = backend.OpMatMul
	OpPooling     OpKind = backend.OpPooling
	OpBinary      OpKind = backend.OpBinary
	OpUnary       OpKind = backend.OpUnary
	OpSoftmax     OpKind = backend.OpSoftmax
	OpRaster      OpKind = backend.OpRaster
)

// Garbage collection pressure levels.
const (
	GCLight    = backend.GCLight
	GCModerate = backend.GCModerate
	GCFull     = backend.GCFull
)

// NewRegistry returns an empty creator registry.
func NewRegistry() *Registry {
	return backend.NewRegistry()
}

// EncodeCache wraps a runtime cache payload into a self-verifying
// compressed blob.
func EncodeCache(payload []byte) ([]byte, error) {
	return backend.EncodeCache(payload)
}

// DecodeCache verifies and unwraps a blob produced by EncodeCache.
func DecodeCache(blob []byte) ([]byte, error) {
	return backend.DecodeCache(blob)
}
