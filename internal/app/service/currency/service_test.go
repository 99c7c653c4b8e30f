package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/cache"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
)

func newTestConverter(t *testing.T, apiBaseURL string) Converter {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	cfg := &cfgpkg.Config{Currency: cfgpkg.CurrencyConfig{
		APIBaseURL: apiBaseURL,
		APIKey:     "test-key",
		CacheTTL:   time.Minute,
	}}
	return NewService(cfg, c, zap.NewNop().Sugar())
}

func ratesServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, "/rates/latest", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		require.Equal(t, "USD", r.URL.Query().Get("base"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConvertCents_Identity(t *testing.T) {
	conv := newTestConverter(t, "http://127.0.0.1:0")

	got, err := conv.ConvertCents(context.Background(), 999, "USD", "USD")
	require.NoError(t, err)
	require.Equal(t, int64(999), got)

	got, err = conv.ConvertCents(context.Background(), 999, "usd", " usd ")
	require.NoError(t, err)
	require.Equal(t, int64(999), got)
}

func TestConvertCents_LiveRateRoundsHalfUp(t *testing.T) {
	// The vendor ships rates as JSON strings.
	srv := ratesServer(t, `{"rates":{"EUR":"0.925"}}`, nil)
	conv := newTestConverter(t, srv.URL)

	// 999 * 0.925 = 924.075 -> 924
	got, err := conv.ConvertCents(context.Background(), 999, "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(924), got)

	// 1000 * 0.925 = 925 exactly; 998 * 0.925 = 923.15 -> 923
	got, err = conv.ConvertCents(context.Background(), 998, "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(923), got)
}

func TestConvertCents_RateIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := ratesServer(t, `{"rates":{"GBP":"0.80"}}`, &hits)
	conv := newTestConverter(t, srv.URL)

	for i := 0; i < 3; i++ {
		got, err := conv.ConvertCents(context.Background(), 1000, "USD", "GBP")
		require.NoError(t, err)
		require.Equal(t, int64(800), got)
	}
	require.Equal(t, int32(1), hits.Load(), "subsequent conversions must hit the cache")
}

func TestConvertCents_APIOutageFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	conv := newTestConverter(t, srv.URL)

	// Static fallback EUR rate is 0.92.
	got, err := conv.ConvertCents(context.Background(), 1000, "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(920), got)
}

func TestConvertCents_MalformedRateFallsBack(t *testing.T) {
	srv := ratesServer(t, `{"rates":{"EUR":"-1"}}`, nil)
	conv := newTestConverter(t, srv.URL)

	got, err := conv.ConvertCents(context.Background(), 1000, "USD", "EUR")
	require.NoError(t, err)
	require.Equal(t, int64(920), got)
}

func TestConvertCents_UnsupportedCurrency(t *testing.T) {
	conv := newTestConverter(t, "http://127.0.0.1:0")

	_, err := conv.ConvertCents(context.Background(), 1000, "USD", "JPY")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)

	_, err = conv.ConvertCents(context.Background(), 1000, "EUR", "GBP")
	require.ErrorIs(t, err, ErrUnsupportedCurrency, "rates are USD-based")
}
