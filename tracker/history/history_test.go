package history

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

func tx(i int) *model.EnrichedTransaction {
	return &model.EnrichedTransaction{
		NormalizedTransaction: model.NormalizedTransaction{ID: strconv.Itoa(i)},
		Seq:                   uint64(i),
	}
}

func ids(txs []*model.EnrichedTransaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.ID)
	}

	return out
}

func TestEmpty(t *testing.T) {
	h := New(3)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 3, h.Cap())
	assert.Empty(t, h.List(0))

	assert.Equal(t, DefaultCapacity, New(0).Cap())
}

func TestEviction(t *testing.T) {
	const n = 5

	h := New(n)

	for i := 1; i <= n+1; i++ {
		h.Push(tx(i))
		assert.LessOrEqual(t, h.Len(), n)
	}

	assert.Equal(t, n, h.Len())
	assert.Equal(t, []string{"6", "5", "4", "3", "2"}, ids(h.List(0)))
}

func TestListLimit(t *testing.T) {
	h := New(4)
	for i := 1; i <= 10; i++ {
		h.Push(tx(i))
	}

	assert.Equal(t, []string{"10", "9"}, ids(h.List(2)))
	assert.Equal(t, []string{"10", "9", "8", "7"}, ids(h.List(99)))
}

func TestPartial(t *testing.T) {
	h := New(4)
	h.Push(tx(1))
	h.Push(tx(2))

	assert.Equal(t, []string{"2", "1"}, ids(h.List(0)))

	h.Clear()
	assert.Equal(t, 0, h.Len())
	h.Push(tx(3))
	assert.Equal(t, []string{"3"}, ids(h.List(0)))
}
