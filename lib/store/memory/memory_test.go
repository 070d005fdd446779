package memory

import (
	"testing"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/storetest"
)

func TestMemory(t *testing.T) {
	m := New()
	defer m.Close()

	storetest.Run(t, m, "testnet")
}
