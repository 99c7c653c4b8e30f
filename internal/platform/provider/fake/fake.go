package fake

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pulsetel/simhub/internal/platform/provider"
	"github.com/pulsetel/simhub/pkg/types"
)

// Client is a scriptable provider client for tests. The zero behavior
// answers every lookup with ErrNotFound and every fulfillment with a
// canned success; set the function fields to script anything else. Call
// counters are atomic because reconciliation fans out concurrently.
type Client struct {
	ID        types.Provider
	LookupFn  func(ctx context.Context, iccid string) (*types.ProviderRecord, error)
	FulfillFn func(ctx context.Context, fctx map[string]string) (*provider.FulfillmentResult, error)

	lookupCalls  atomic.Int32
	fulfillCalls atomic.Int32
}

func New(p types.Provider) *Client {
	return &Client{ID: p}
}

func (c *Client) Provider() types.Provider {
	return c.ID
}

func (c *Client) LookupByICCID(ctx context.Context, iccid string) (*types.ProviderRecord, error) {
	c.lookupCalls.Add(1)
	if c.LookupFn == nil {
		return nil, provider.ErrNotFound
	}
	return c.LookupFn(ctx, iccid)
}

func (c *Client) FulfillRenewal(ctx context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
	c.fulfillCalls.Add(1)
	if c.FulfillFn == nil {
		return &provider.FulfillmentResult{Provider: c.ID, OrderRef: "fake-ref"}, nil
	}
	return c.FulfillFn(ctx, fctx)
}

func (c *Client) LookupCalls() int {
	return int(c.lookupCalls.Load())
}

func (c *Client) FulfillCalls() int {
	return int(c.fulfillCalls.Load())
}

// Catalog is a scriptable bundle catalogue for tests. It records the last
// query so assertions can check how the matcher scoped its search.
type Catalog struct {
	Entries []provider.CatalogueBundle
	Err     error

	mu              sync.Mutex
	lastCountries   string
	lastDescription string
	calls           int
}

func (c *Catalog) SearchCatalogue(_ context.Context, countries, description string) ([]provider.CatalogueBundle, error) {
	c.mu.Lock()
	c.lastCountries = countries
	c.lastDescription = description
	c.calls++
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Entries, nil
}

func (c *Catalog) LastQuery() (countries, description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCountries, c.lastDescription
}

func (c *Catalog) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
