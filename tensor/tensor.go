// Copyright 2026 Kiln ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor descriptor API for Kiln.
//
// A Tensor is typed, shaped metadata over device memory owned by a
// backend. Acquire storage for it through a backend from the backend
// package.
//
// Example:
//
//	t, err := tensor.New(tensor.Shape{1, 3, 224, 224}, tensor.Float32, tensor.NCHW)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := be.AcquireBuffer(t, backend.Dynamic); err != nil {
//	    log.Fatal(err)
//	}
package tensor

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float16 DataType = tensor.Float16
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// Layout describes how a tensor's elements are ordered in memory.
type Layout = tensor.Layout

// Layout constants.
const (
	NCHW   Layout = tensor.NCHW
	NHWC   Layout = tensor.NHWC
	NC4HW4 Layout = tensor.NC4HW4
)

// Tensor describes a typed, shaped view over backend-owned device
// memory.
type Tensor = tensor.Tensor

// New creates a tensor descriptor with no device storage attached.
func New(shape Shape, dtype DataType, layout Layout) (*Tensor, error) {
	return tensor.New(shape, dtype, layout)
}
