package exchangerate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/channelsync/internal/domain/pricing"
	"github.com/erp/channelsync/internal/infrastructure/config"
)

var usdKrw = pricing.CurrencyPair{Base: "USD", Target: "KRW"}

func newTestProvider(t *testing.T, handler http.HandlerFunc, apiKey string) *HTTPRateProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewHTTPRateProvider(config.ProviderConfig{
		Name:     "test-provider",
		URL:      server.URL + "/latest/{base}",
		APIKey:   apiKey,
		Priority: 2,
		Timeout:  time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestHTTPRateProvider_Fetch(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{
			name:   "rates map",
			status: http.StatusOK,
			body:   `{"result":"success","base_code":"USD","rates":{"KRW":1350.25,"JPY":151.2}}`,
			want:   "1350.25",
		},
		{
			name:   "conversion rates map",
			status: http.StatusOK,
			body:   `{"result":"success","conversion_rates":{"KRW":"1349.9"}}`,
			want:   "1349.9",
		},
		{
			name:    "missing target",
			status:  http.StatusOK,
			body:    `{"rates":{"JPY":151.2}}`,
			wantErr: pricing.ErrRateNotFound,
		},
		{
			name:    "api error",
			status:  http.StatusOK,
			body:    `{"result":"error","error-type":"invalid-key"}`,
			wantErr: ErrProviderResponse,
		},
		{
			name:    "zero rate",
			status:  http.StatusOK,
			body:    `{"rates":{"KRW":0}}`,
			wantErr: ErrProviderResponse,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			body:    `upstream down`,
			wantErr: ErrProviderResponse,
		},
		{
			name:    "not json",
			status:  http.StatusOK,
			body:    `<html>`,
			wantErr: ErrProviderResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/latest/USD", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "")

			rate, err := p.Fetch(context.Background(), usdKrw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, rate.Equal(decimal.RequireFromString(tt.want)), "got %s", rate)
		})
	}
}

func TestHTTPRateProvider_Credentials(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"rates":{"KRW":1300}}`))
	}, "secret")

	_, err := p.Fetch(context.Background(), usdKrw)
	require.NoError(t, err)

	meta := p.Metadata()
	assert.Equal(t, "test-provider", meta.Name)
	assert.Equal(t, 2, meta.Priority)
	assert.True(t, meta.RequiresCredential)
}

func TestHTTPRateProvider_ContextCancelled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Fetch(ctx, usdKrw)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPRateProviders(t *testing.T) {
	providers, err := NewHTTPRateProviders([]config.ProviderConfig{
		{Name: "a", URL: "https://a.example/{base}", Priority: 1},
		{Name: "b", URL: "https://b.example/{base}", Priority: 2},
	})
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	_, err = NewHTTPRateProviders([]config.ProviderConfig{{Name: "broken"}})
	assert.ErrorIs(t, err, ErrProviderMisconfigured)
}
