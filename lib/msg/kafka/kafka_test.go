package kafka

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "solana.sr", Topic("solana", msg.SubjectRequests))
	assert.Equal(t, "solana.te", Topic("solana", msg.TrackerEvents))
}

func TestNewRequiresBrokers(t *testing.T) {
	_, err := New(nil, "")
	assert.Error(t, err)

	k, err := New([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultGroupID, k.groupID)
	assert.NoError(t, k.Close())
}

// TestKafka needs a Kafka cluster, e.g. PULSE_TEST_KAFKA=localhost:9092.
func TestKafka(t *testing.T) {
	brokers := os.Getenv("PULSE_TEST_KAFKA")
	if brokers == "" {
		t.Skip("PULSE_TEST_KAFKA not set")
	}

	k, err := New(strings.Split(brokers, ","), "pulsetrack-test")
	require.NoError(t, err)

	defer k.Close()

	require.NoError(t, k.Setup())

	want := msg.SubjectReq{Net: "testnet", Subject: "abc", Act: msg.UNLISTEN}
	require.NoError(t, k.SendRequest("testnet", want))

	mut := new(sync.Mutex)
	mut.Lock()

	reqs, _, err := k.GetReqs("testnet", mut)
	require.NoError(t, err)

	select {
	case got := <-reqs:
		assert.Equal(t, want, got)
	case <-time.After(30 * time.Second):
		t.Fatal("request not delivered")
	}

	mut.Unlock()
}
