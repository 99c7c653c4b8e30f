package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/provider"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/metrics"
	"github.com/pulsetel/simhub/pkg/types"
)

// ErrNotFound means no provider has a record for the ICCID. Expected
// outcome, mapped to 404 at the API edge.
var ErrNotFound = errors.New("reconcile: iccid not found with any provider")

// Outcome is one provider's part in a reconciliation pass. Err is empty
// for both hits and clean misses; it only carries lookup failures.
type Outcome struct {
	Provider   types.Provider `json:"provider"`
	Found      bool           `json:"found"`
	Score      int            `json:"score"`
	Err        string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

type lookupResult struct {
	provider types.Provider
	rec      *types.ProviderRecord
	err      error
	elapsed  time.Duration
}

// Coordinator fans one ICCID lookup out to every registered provider and
// folds the answers into a single MergedRecord. Each provider runs in its
// own goroutine with its own timeout; a failing provider is treated as
// absent and never aborts the others. There are no retries.
type Coordinator struct {
	registry         *provider.Registry
	merger           *Merger
	log              *zap.SugaredLogger
	lookupTimeout    time.Duration
	aggregateTimeout time.Duration
}

func NewCoordinator(cfg *cfgpkg.Config, registry *provider.Registry, merger *Merger, l *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		registry:         registry,
		merger:           merger,
		log:              l,
		lookupTimeout:    cfg.Reconcile.LookupTimeout,
		aggregateTimeout: cfg.Reconcile.AggregateTimeout,
	}
}

// Reconcile queries all providers concurrently and merges whatever came
// back. The outcomes slice always covers every registered provider in
// fixed order, whether the merge succeeded or not. Returns ErrNotFound
// when every provider missed.
func (c *Coordinator) Reconcile(ctx context.Context, iccid string) (*types.MergedRecord, []Outcome, error) {
	clients := c.registry.All()
	// Buffered so stragglers past the aggregate deadline can still send
	// and exit instead of leaking.
	results := make(chan lookupResult, len(clients))
	for _, cl := range clients {
		go c.lookup(ctx, cl, iccid, results)
	}

	deadline := time.NewTimer(c.aggregateTimeout)
	defer deadline.Stop()

	records := map[types.Provider]*types.ProviderRecord{}
	outcomes := map[types.Provider]Outcome{}

collect:
	for len(outcomes) < len(clients) {
		select {
		case r := <-results:
			o := Outcome{Provider: r.provider, DurationMs: r.elapsed.Milliseconds()}
			switch {
			case r.err == nil && r.rec != nil:
				o.Found = true
				o.Score = Score(r.rec)
				records[r.provider] = r.rec
			case errors.Is(r.err, provider.ErrNotFound):
				c.log.Debugw("provider has no record", "provider", r.provider, "iccid", iccid)
			default:
				o.Err = r.err.Error()
				c.log.Warnw("provider lookup failed", "provider", r.provider, "iccid", iccid, "err", r.err)
			}
			outcomes[r.provider] = o
		case <-deadline.C:
			c.log.Warnw("aggregate deadline hit, abandoning slow providers",
				"iccid", iccid, "answered", len(outcomes), "total", len(clients))
			break collect
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	ordered := make([]Outcome, 0, len(clients))
	for _, cl := range clients {
		p := cl.Provider()
		if o, ok := outcomes[p]; ok {
			ordered = append(ordered, o)
			continue
		}
		ordered = append(ordered, Outcome{Provider: p, Err: "abandoned: aggregate deadline exceeded"})
	}

	if len(records) == 0 {
		return nil, ordered, ErrNotFound
	}

	merged := c.merger.Merge(iccid, records)
	merged.PrimaryProvider = pickPrimary(ordered)
	return merged, ordered, nil
}

// lookup runs a single provider query under its own timeout and reports
// on the results channel.
func (c *Coordinator) lookup(ctx context.Context, cl provider.Client, iccid string, results chan<- lookupResult) {
	start := time.Now()
	wctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()
	rec, err := cl.LookupByICCID(wctx, iccid)
	metrics.ObserveBusinessProcess("provider_lookup", string(cl.Provider()), metrics.MillisecondsSince(start))
	results <- lookupResult{provider: cl.Provider(), rec: rec, err: err, elapsed: time.Since(start)}
}

// pickPrimary selects the highest-scoring found provider. Ties keep the
// earlier provider in fixed enumeration order.
func pickPrimary(outcomes []Outcome) types.Provider {
	var primary types.Provider
	best := -1
	for _, o := range outcomes {
		if o.Found && o.Score > best {
			best = o.Score
			primary = o.Provider
		}
	}
	return primary
}
