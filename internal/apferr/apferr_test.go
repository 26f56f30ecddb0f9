package apferr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := New(Busy, "snapshot is mounted")
	assert.Equal(t, "snapshot is mounted", err.Error())

	wrapped := Wrap(Plugin, "create failed", errors.New("lvcreate: out of space"))
	assert.Equal(t, "create failed: lvcreate: out of space", wrapped.Error())
	assert.Equal(t, "lvcreate: out of space", wrapped.Unwrap().Error())
}

func TestIsAndCodeOf(t *testing.T) {
	cause := New(NoSpace, "insufficient free extents")
	top := Wrap(Plugin, "create_snapshot failed", cause)

	assert.True(t, Is(top, Plugin))
	assert.True(t, Is(top, NoSpace))
	assert.False(t, Is(top, Busy))
	assert.Equal(t, Plugin, CodeOf(top))

	require.False(t, Is(nil, Plugin))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestLockInfoError(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	info := LockInfo{PID: 4242, Acquired: when}
	assert.Contains(t, info.Error(), "4242")
	assert.Contains(t, info.Error(), "2026-01-02T03:04:05Z")

	busy := Wrap(Busy, "another snapm process holds the manager lock", info)
	assert.True(t, Is(busy, Busy))
	var lockErr LockInfo
	require.True(t, errors.As(busy.Unwrap(), &lockErr))
	assert.Equal(t, 4242, lockErr.PID)
}
