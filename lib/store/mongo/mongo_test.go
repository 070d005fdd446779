package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/storetest"
)

// TestMongo needs a MongoDB server, e.g. PULSE_TEST_MONGODB=mongodb://localhost:27017.
func TestMongo(t *testing.T) {
	uri := os.Getenv("PULSE_TEST_MONGODB")
	if uri == "" {
		t.Skip("PULSE_TEST_MONGODB not set")
	}

	m, err := New(uri)
	require.NoError(t, err)

	defer m.Close()

	ctx := context.Background()
	for _, net := range []string{"storetest", "storetest-other"} {
		require.NoError(t, m.drop(ctx, net))
	}

	storetest.Run(t, m, "storetest")
}
