package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/storetest"
)

// TestRedis needs a Redis server, e.g. PULSE_TEST_REDIS=redis://localhost:6379/0.
func TestRedis(t *testing.T) {
	url := os.Getenv("PULSE_TEST_REDIS")
	if url == "" {
		t.Skip("PULSE_TEST_REDIS not set")
	}

	r, err := New(url)
	require.NoError(t, err)

	defer r.Close()

	r.prefix = "pulsetrack-test"
	require.NoError(t, r.drop(context.Background(), "storetest", "storetest-other"))

	storetest.Run(t, r, "storetest")
}

func TestNewBadURL(t *testing.T) {
	_, err := New("http://nope")
	require.Error(t, err)
}
