package tensor

import "testing"

func TestDataTypeSize(t *testing.T) {
	tests := []struct {
		dtype DataType
		size  int
	}{
		{Float32, 4},
		{Float16, 2},
		{Int32, 4},
		{Int64, 8},
		{Uint8, 1},
		{Bool, 1},
	}
	for _, tt := range tests {
		if got := tt.dtype.Size(); got != tt.size {
			t.Errorf("%s.Size() = %d, want %d", tt.dtype, got, tt.size)
		}
	}
}

func TestShapeNumElements(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{Shape{}, 1},
		{Shape{5}, 5},
		{Shape{2, 3, 4}, 24},
	}
	for _, tt := range tests {
		if got := tt.shape.NumElements(); got != tt.want {
			t.Errorf("%v.NumElements() = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestShapeValidate(t *testing.T) {
	if err := (Shape{2, 3}).Validate(); err != nil {
		t.Errorf("valid shape rejected: %v", err)
	}
	if err := (Shape{2, 0}).Validate(); err == nil {
		t.Error("zero dimension accepted")
	}
	if err := (Shape{-1, 3}).Validate(); err == nil {
		t.Error("negative dimension accepted")
	}
}

func TestNewRejectsInvalidShape(t *testing.T) {
	if _, err := New(Shape{1, -2}, Float32, NCHW); err == nil {
		t.Fatal("New accepted an invalid shape")
	}
}

func TestByteSize(t *testing.T) {
	tests := []struct {
		shape  Shape
		dtype  DataType
		layout Layout
		want   int
	}{
		{Shape{1, 3, 8, 8}, Float32, NCHW, 1 * 3 * 8 * 8 * 4},
		{Shape{1, 3, 8, 8}, Float16, NHWC, 1 * 3 * 8 * 8 * 2},
		// NC4HW4 pads channels to the next multiple of four.
		{Shape{1, 3, 8, 8}, Float32, NC4HW4, 1 * 4 * 8 * 8 * 4},
		{Shape{2, 9, 4, 4}, Float32, NC4HW4, 2 * 12 * 4 * 4 * 4},
	}
	for _, tt := range tests {
		tr, err := New(tt.shape, tt.dtype, tt.layout)
		if err != nil {
			t.Fatalf("New(%v): %v", tt.shape, err)
		}
		if got := tr.ByteSize(); got != tt.want {
			t.Errorf("%v %s %s ByteSize = %d, want %d", tt.shape, tt.dtype, tt.layout, got, tt.want)
		}
	}
}

func TestDeviceBinding(t *testing.T) {
	tr, err := New(Shape{2, 4}, Float32, NCHW)
	if err != nil {
		t.Fatal(err)
	}
	if tr.HasDevice() {
		t.Error("fresh tensor reports device storage")
	}

	tr.SetDevice(0x1000, 32)
	if !tr.HasDevice() || tr.DeviceAddr() != 0x1000 || tr.DeviceSize() != 32 {
		t.Errorf("binding not recorded: addr %#x size %d", tr.DeviceAddr(), tr.DeviceSize())
	}

	tr.SetDeviceAddr(0x2000)
	if tr.DeviceAddr() != 0x2000 || tr.DeviceSize() != 32 {
		t.Error("rebind must keep the storage size")
	}
}
