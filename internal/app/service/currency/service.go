package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/cache"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/logctx"
)

// ErrUnsupportedCurrency rejects conversion outside the supported set.
var ErrUnsupportedCurrency = errors.New("currency: unsupported currency")

// fallbackRates double as the supported-currency set and the USD-based
// rates of last resort when both the rates API and the cache are
// unavailable.
var fallbackRates = map[string]float64{
	"EUR": 0.92,
	"GBP": 0.79,
	"TRY": 34.5,
	"AED": 3.67,
}

// Converter converts USD-catalogued prices into checkout currencies.
type Converter interface {
	// ConvertCents converts an integer amount of from-cents into to-cents,
	// rounding half-up. Same-currency conversion is the identity.
	ConvertCents(ctx context.Context, amountCents int64, from, to string) (int64, error)
}

type service struct {
	cfg   cfgpkg.CurrencyConfig
	cache *cache.Cache
	httpc *http.Client
	log   *zap.SugaredLogger
}

func NewService(cfg *cfgpkg.Config, c *cache.Cache, l *zap.SugaredLogger) Converter {
	return &service{
		cfg:   cfg.Currency,
		cache: c,
		httpc: &http.Client{Timeout: 10 * time.Second},
		log:   l,
	}
}

func (s *service) ConvertCents(ctx context.Context, amountCents int64, from, to string) (int64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if to == "" || from == to {
		return amountCents, nil
	}
	if from != "USD" {
		return 0, fmt.Errorf("%w: rates are USD-based, got source %s", ErrUnsupportedCurrency, from)
	}
	if _, ok := fallbackRates[to]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, to)
	}
	rate := s.rate(ctx, from, to)
	return int64(math.Floor(float64(amountCents)*rate + 0.5)), nil
}

// rate returns the cached rate, the live rate, or the static fallback, in
// that order. It never fails for a supported currency.
func (s *service) rate(ctx context.Context, from, to string) float64 {
	log := logctx.FromCtx(ctx, s.log)
	key := fmt.Sprintf("currency:rate:%s:%s", from, to)
	if b, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Warnf("rate cache read failed: %v", err)
	} else if ok {
		if r, err := strconv.ParseFloat(string(b), 64); err == nil && r > 0 {
			return r
		}
	}

	r, err := s.fetchRate(ctx, from, to)
	if err != nil {
		log.Warnf("rates API unavailable, using fallback rate for %s: %v", to, err)
		return fallbackRates[to]
	}
	if err := s.cache.Set(ctx, key, []byte(strconv.FormatFloat(r, 'f', -1, 64)), s.cfg.CacheTTL); err != nil {
		log.Warnf("rate cache write failed: %v", err)
	}
	return r
}

func (s *service) fetchRate(ctx context.Context, from, to string) (float64, error) {
	u, err := url.Parse(s.cfg.APIBaseURL + "/rates/latest")
	if err != nil {
		return 0, err
	}
	q := u.Query()
	q.Set("apikey", s.cfg.APIKey)
	q.Set("base", from)
	q.Set("symbols", to)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rates api status %d", resp.StatusCode)
	}

	// The vendor ships rate values as JSON strings.
	var body struct {
		Rates map[string]string `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	raw, ok := body.Rates[to]
	if !ok {
		return 0, fmt.Errorf("rate for %s missing from response", to)
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r <= 0 {
		return 0, fmt.Errorf("invalid rate %q for %s", raw, to)
	}
	return r, nil
}

// Module exposes the currency converter via Fx.
var Module = fx.Options(fx.Provide(NewService))
