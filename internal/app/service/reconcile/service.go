package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/app/service/querylog"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/internal/platform/cache"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/logctx"
	"github.com/pulsetel/simhub/pkg/metrics"
	"github.com/pulsetel/simhub/pkg/tool"
	"github.com/pulsetel/simhub/pkg/types"
)

// ErrInvalidICCID rejects lookups with an empty identifier before any
// provider traffic.
var ErrInvalidICCID = errors.New("reconcile: iccid must not be empty")

// LookupQuery carries one subscription lookup request.
type LookupQuery struct {
	ICCID    string
	Refresh  bool
	ClientIP string
}

// LookupResult is the served answer. CacheHit is request-scoped and never
// stored.
type LookupResult struct {
	Record   *types.MergedRecord `json:"record"`
	Outcomes []Outcome           `json:"outcomes"`
	CacheHit bool                `json:"-"`
}

// Service is the reconciliation entry point: cache in front, provider
// fan-out behind, query history on the side.
type Service interface {
	// Lookup resolves one ICCID to its merged cross-provider view.
	// Returns ErrNotFound when every provider missed.
	Lookup(ctx context.Context, q LookupQuery) (*LookupResult, error)
	// Sources always queries live and reports the per-provider outcomes,
	// including clean misses and failures.
	Sources(ctx context.Context, iccid string) ([]Outcome, error)
	// Invalidate drops the cached view for an ICCID, forcing the next
	// lookup to query live.
	Invalidate(ctx context.Context, iccid string) error
}

type service struct {
	coordinator *Coordinator
	cache       *cache.Cache
	queries     querylog.Recorder
	log         *zap.SugaredLogger
	cacheTTL    time.Duration
}

func NewService(cfg *cfgpkg.Config, coordinator *Coordinator, c *cache.Cache, queries querylog.Recorder, l *zap.SugaredLogger) Service {
	return &service{
		coordinator: coordinator,
		cache:       c,
		queries:     queries,
		log:         l,
		cacheTTL:    cfg.Reconcile.QueryCacheTTL,
	}
}

func cacheKey(normalizedICCID string) string {
	return "esim:lookup:" + normalizedICCID
}

func (s *service) Lookup(ctx context.Context, q LookupQuery) (*LookupResult, error) {
	norm := tool.NormalizeICCID(q.ICCID)
	if norm == "" {
		return nil, ErrInvalidICCID
	}
	start := time.Now()
	log := logctx.FromCtx(ctx, s.log)

	// Cache outages degrade to live lookups, never to request failures.
	if !q.Refresh {
		if b, ok, err := s.cache.Get(ctx, cacheKey(norm)); err != nil {
			log.Warnf("lookup cache read failed: %v", err)
		} else if ok {
			var res LookupResult
			if err := json.Unmarshal(b, &res); err != nil {
				log.Warnf("discarding corrupt lookup cache entry: %v", err)
			} else {
				res.CacheHit = true
				s.recordQuery(ctx, norm, &res, q.ClientIP, true, start)
				metrics.ObserveBusinessProcess("esim_lookup", "cache", metrics.MillisecondsSince(start))
				return &res, nil
			}
		}
	}

	merged, outcomes, err := s.coordinator.Reconcile(ctx, strings.TrimSpace(q.ICCID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordQuery(ctx, norm, &LookupResult{Outcomes: outcomes}, q.ClientIP, false, start)
			metrics.ObserveBusinessProcess("esim_lookup", "miss", metrics.MillisecondsSince(start))
		}
		return nil, err
	}

	res := &LookupResult{Record: merged, Outcomes: outcomes}
	if b, err := json.Marshal(res); err == nil {
		if err := s.cache.Set(ctx, cacheKey(norm), b, s.cacheTTL); err != nil {
			log.Warnf("lookup cache write failed: %v", err)
		}
	}
	s.recordQuery(ctx, norm, res, q.ClientIP, false, start)
	metrics.ObserveBusinessProcess("esim_lookup", "live", metrics.MillisecondsSince(start))
	return res, nil
}

func (s *service) Sources(ctx context.Context, iccid string) ([]Outcome, error) {
	if tool.NormalizeICCID(iccid) == "" {
		return nil, ErrInvalidICCID
	}
	_, outcomes, err := s.coordinator.Reconcile(ctx, strings.TrimSpace(iccid))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return outcomes, nil
}

func (s *service) Invalidate(ctx context.Context, iccid string) error {
	norm := tool.NormalizeICCID(iccid)
	if norm == "" {
		return ErrInvalidICCID
	}
	return s.cache.Delete(ctx, cacheKey(norm))
}

func (s *service) recordQuery(ctx context.Context, iccid string, res *LookupResult, clientIP string, cacheHit bool, start time.Time) {
	entry := &models.ESIMQueryLog{
		ICCID:      iccid,
		Found:      res.Record != nil,
		CacheHit:   cacheHit,
		DurationMs: time.Since(start).Milliseconds(),
		ClientIP:   clientIP,
	}
	if res.Record != nil {
		entry.Sources = strings.Join(res.Record.DataSources, ", ")
		p := string(res.Record.PrimaryProvider)
		entry.PrimaryProvider = &p
	}
	if best := bestScore(res.Outcomes); best >= 0 {
		entry.BestScore = &best
	}
	s.queries.Record(ctx, entry)
}

func bestScore(outcomes []Outcome) int {
	best := -1
	for _, o := range outcomes {
		if o.Found && o.Score > best {
			best = o.Score
		}
	}
	return best
}
