package httpmeta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provider(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens/usdc":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			_, _ = w.Write([]byte(`{"id":"usdc","symbol":"USDC","name":"USD Coin","price":"0.9998","logoURI":"https://logo/usdc.png"}`))
		case "/tokens/meme":
			_, _ = w.Write([]byte(`{"id":"meme","symbol":"MEME","name":"Meme"}`))
		case "/tokens/broken":
			_, _ = w.Write([]byte(`{"id":`))
		default:
			http.Error(w, "unknown asset", http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestFetch(t *testing.T) {
	srv := provider(t)
	f := New(srv.URL+"/tokens/", 100, 1)
	f.Header = http.Header{"X-Api-Key": []string{"secret"}}

	md, err := f.Fetch(context.Background(), "usdc")
	require.NoError(t, err)
	assert.Equal(t, "usdc", md.AssetID)
	assert.Equal(t, "USDC", md.Symbol)
	assert.Equal(t, "USD Coin", md.Name)
	assert.True(t, md.HasPrice)
	assert.True(t, decimal.RequireFromString("0.9998").Equal(md.PriceUSD))
	assert.Equal(t, "https://logo/usdc.png", md.LogoURL)
}

func TestFetchWithoutPrice(t *testing.T) {
	srv := provider(t)
	f := New(srv.URL+"/tokens", 0, 0)
	assert.Nil(t, f.Limiter)

	md, err := f.Fetch(context.Background(), "meme")
	require.NoError(t, err)
	assert.False(t, md.HasPrice)
	assert.Empty(t, md.LogoURL)
}

func TestFetchErrors(t *testing.T) {
	srv := provider(t)
	f := New(srv.URL+"/tokens", 0, 0)

	_, err := f.Fetch(context.Background(), "nope")

	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "unknown asset", se.Body)

	_, err = f.Fetch(context.Background(), "broken")
	assert.Error(t, err)
}

func TestFetchCancelledWhileLimited(t *testing.T) {
	srv := provider(t)
	f := New(srv.URL+"/tokens", 0.001, 1)

	_, err := f.Fetch(context.Background(), "meme")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.Fetch(ctx, "meme")
	assert.Error(t, err)
}
