package chain

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	n, err := New("solana")
	require.NoError(t, err)
	assert.Equal(t, "solana", n.Name())

	_, err = New("mainnet")
	require.NoError(t, err)

	_, err = New("ropsten")
	assert.True(t, errors.Is(err, ErrUnsupported))
}
