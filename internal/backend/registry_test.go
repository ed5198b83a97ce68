package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	valid    bool
	created  int
	lastInfo Info
}

func (f *fakeCreator) CreateRuntime(info *Info) (Runtime, error) {
	f.created++
	f.lastInfo = *info
	return nil, nil
}

func (f *fakeCreator) Validate(info *Info) bool {
	if info.NumThreads <= 0 {
		info.NumThreads = 1
	}
	return f.valid
}

func TestRegisterFirstWins(t *testing.T) {
	r := NewRegistry()
	a := &fakeCreator{valid: true}
	b := &fakeCreator{valid: true}

	require.True(t, r.Register(ForwardWebGPU, a))
	require.False(t, r.Register(ForwardWebGPU, b))

	got, ok := r.Creator(ForwardWebGPU)
	require.True(t, ok)
	require.Same(t, a, got)
}

func TestCreateRuntimeUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateRuntime(&Info{Type: ForwardWebGPU})
	require.ErrorIs(t, err, ErrNoCreator)
}

func TestCreateRuntimeRejectedByValidate(t *testing.T) {
	r := NewRegistry()
	c := &fakeCreator{valid: false}
	r.Register(ForwardCPU, c)

	_, err := r.CreateRuntime(&Info{Type: ForwardCPU})
	require.ErrorIs(t, err, ErrInvalidBackend)
	require.Zero(t, c.created)
}

func TestCreateRuntimeFixesUpInfo(t *testing.T) {
	r := NewRegistry()
	c := &fakeCreator{valid: true}
	r.Register(ForwardCPU, c)

	_, err := r.CreateRuntime(&Info{Type: ForwardCPU, NumThreads: 0})
	require.NoError(t, err)
	require.Equal(t, 1, c.lastInfo.NumThreads, "Validate fixups must reach the creator")
}

func TestCreateRuntimeAuto(t *testing.T) {
	r := NewRegistry()
	cpu := &fakeCreator{valid: false}
	gpu := &fakeCreator{valid: true}
	r.Register(ForwardCPU, cpu)
	r.Register(ForwardWebGPU, gpu)

	_, err := r.CreateRuntime(&Info{Type: ForwardAuto})
	require.NoError(t, err)
	require.Zero(t, cpu.created)
	require.Equal(t, 1, gpu.created)
	require.Equal(t, ForwardWebGPU, gpu.lastInfo.Type, "auto resolves to the concrete type")
}

func TestCreateRuntimeAutoNothingValidates(t *testing.T) {
	r := NewRegistry()
	r.Register(ForwardCPU, &fakeCreator{valid: false})

	_, err := r.CreateRuntime(&Info{Type: ForwardAuto})
	require.True(t, errors.Is(err, ErrNoCreator))
}

func TestZeroRegistryUsable(t *testing.T) {
	var r Registry
	require.True(t, r.Register(ForwardCPU, &fakeCreator{valid: true}))
	require.Len(t, r.Types(), 1)
}
