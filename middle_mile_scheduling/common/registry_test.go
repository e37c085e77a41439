package common

import (
	"mpsdn/topology"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFinder struct{ id int }

func (s *stubFinder) FindRoute(*topology.Topology, uint64, uint64, Options) (*topology.Path, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	count := 0
	factory := func() PathFinder {
		count++
		return &stubFinder{id: count}
	}

	require.NoError(t, reg.Register("b", factory))
	require.NoError(t, reg.Register("a", factory))
	assert.Error(t, reg.Register("a", factory))
	assert.Equal(t, []string{"a", "b"}, reg.List())

	first, err := reg.New("a")
	require.NoError(t, err)
	second, err := reg.New("a")
	require.NoError(t, err)
	assert.NotSame(t, first, second, "every call builds a fresh finder")

	_, err = reg.New("missing")
	assert.Error(t, err)
}
