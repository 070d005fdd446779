package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetIDs(t *testing.T) {
	tx := NormalizedTransaction{AssetDeltas: []AssetDelta{
		{Owner: "a", AssetID: "mintB", Amount: decimal.NewFromInt(1)},
		{Owner: "b", AssetID: "mintA", Amount: decimal.NewFromInt(-1)},
		{Owner: "c", AssetID: "mintB", Amount: decimal.NewFromInt(2)},
	}}
	assert.Equal(t, []string{"mintB", "mintA"}, tx.AssetIDs())

	empty := NormalizedTransaction{}
	assert.Empty(t, empty.AssetIDs())
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		S Status `json:"s"`
	}{StatusFailed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":"failed"}`, string(b))

	var v struct {
		S Status `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"success"}`), &v))
	assert.Equal(t, StatusSuccess, v.S)
}

func TestErrorKindString(t *testing.T) {
	cases := map[ErrorKind]string{
		TransportError:       "transport",
		AuthError:            "auth",
		ProtocolError:        "protocol",
		EnrichmentFetchError: "enrichment",
		ExhaustionError:      "exhaustion",
		ErrorKind(42):        "unknown",
	}
	for k, s := range cases {
		assert.Equal(t, s, k.String())
	}
}
