// Package httpmeta fetches asset metadata from a JSON over HTTP provider.
package httpmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 256
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpmeta: status %d: %s", e.Code, e.Body)
}

// asset is the provider reply.
type asset struct {
	ID      string           `json:"id"`
	Symbol  string           `json:"symbol"`
	Name    string           `json:"name"`
	Price   *decimal.Decimal `json:"price"`
	LogoURI string           `json:"logoURI"`
}

// Fetcher implements enrich.Fetcher with GET {BaseURL}/{assetId}.
type Fetcher struct {
	BaseURL string
	Client  *http.Client
	Limiter *rate.Limiter // nil means unlimited
	Header  http.Header
}

// New returns a fetcher allowing rps requests per second with the given burst. rps <= 0 disables the limit.
func New(baseURL string, rps float64, burst int) *Fetcher {
	f := &Fetcher{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: defaultTimeout},
	}

	if rps > 0 {
		if burst < 1 {
			burst = 1
		}

		f.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return f
}

// Fetch implements enrich.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, assetID string) (*model.AssetMetadata, error) {
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, errors.Trace(err)
		}
	}

	u := strings.TrimRight(f.BaseURL, "/") + "/" + url.PathEscape(assetID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, errors.Trace(err)
	}

	req.Header.Set("Accept", "application/json")

	for k, v := range f.Header {
		req.Header[k] = v
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var a asset
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return nil, errors.Annotatef(err, "httpmeta: decoding %q", assetID)
	}

	md := &model.AssetMetadata{
		AssetID: assetID,
		Symbol:  a.Symbol,
		Name:    a.Name,
		LogoURL: a.LogoURI,
	}

	if a.Price != nil {
		md.PriceUSD = *a.Price
		md.HasPrice = true
	}

	return md, nil
}
