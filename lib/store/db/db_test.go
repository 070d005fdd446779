package db

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/memory"
)

func TestNew(t *testing.T) {
	d, err := New(MEMORY, "")
	require.NoError(t, err)
	assert.IsType(t, &memory.Memory{}, d)
	assert.NoError(t, d.Close())

	_, err = New("cassandra", "")
	assert.True(t, errors.Is(err, ErrUnknownType))
}
