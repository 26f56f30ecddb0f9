package sizepolicy

import (
	"testing"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	p, err := Parse("", Context{MountPoint: "/home"})
	require.NoError(t, err)
	assert.Equal(t, PercentUsed, p.Kind)
	assert.Equal(t, 200.0, p.Percent)

	p, err = Parse("", Context{})
	require.NoError(t, err)
	assert.Equal(t, PercentSize, p.Kind)
	assert.Equal(t, 25.0, p.Percent)
}

func TestParseFixed(t *testing.T) {
	p, err := Parse("10G", Context{})
	require.NoError(t, err)
	assert.Equal(t, Fixed, p.Kind)
	assert.Equal(t, uint64(10)<<30, p.Bytes)

	size, err := p.Evaluate(Context{})
	require.NoError(t, err)
	assert.Equal(t, uint64(10)<<30, size)
	assert.Zero(t, size%SectorSize)
}

func TestParsePercentUsedRequiresMount(t *testing.T) {
	_, err := Parse("50%USED", Context{})
	require.Error(t, err)
	assert.Equal(t, apferr.SizePolicy, apferr.CodeOf(err))
}

func TestParsePercentFreeOverLimit(t *testing.T) {
	_, err := Parse("150%FREE", Context{})
	require.Error(t, err)
	assert.Equal(t, apferr.SizePolicy, apferr.CodeOf(err))
}

func TestEvaluateRoundsUpToSector(t *testing.T) {
	p := &Policy{Kind: Fixed, Bytes: 513}
	size, err := p.Evaluate(Context{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), size)
}

func TestEvaluatePercentSize(t *testing.T) {
	p, err := Parse("10%SIZE", Context{})
	require.NoError(t, err)
	size, err := p.Evaluate(Context{DevSize: 1000 * SectorSize})
	require.NoError(t, err)
	assert.Equal(t, uint64(100*SectorSize), size)
}

func TestRoundUpExtent(t *testing.T) {
	assert.Equal(t, uint64(4<<20), RoundUpExtent((3<<20)+1, 4<<20))
	assert.Equal(t, uint64(4<<20), RoundUpExtent(4<<20, 4<<20))
	assert.Equal(t, uint64(123), RoundUpExtent(123, 0))
}
