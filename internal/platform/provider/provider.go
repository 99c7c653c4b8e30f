package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pulsetel/simhub/pkg/types"
)

var (
	// ErrNotFound means the provider has no record for the ICCID. This is
	// an expected outcome, not a provider failure.
	ErrNotFound = errors.New("provider: iccid not found")
	// ErrAuthentication means the provider rejected the configured credentials.
	ErrAuthentication = errors.New("provider: authentication failed")
	// ErrTransient covers network faults, timeouts and upstream 5xx responses.
	ErrTransient = errors.New("provider: transient upstream error")
	// ErrMissingContextKey marks a caller bug: FulfillRenewal was invoked
	// without a key the target provider requires.
	ErrMissingContextKey = errors.New("provider: missing fulfillment context key")
)

// Fulfillment context keys. Each provider requires its own subset, see the
// client implementations.
const (
	CtxOrderReference   = "orderReference"
	CtxRenewalDays      = "renewalDays"
	CtxChargedAmount    = "chargedAmount"
	CtxDeviceIdentifier = "deviceIdentifier"
	CtxPackageID        = "packageId"
	CtxBundleID         = "bundleId"
	CtxICCID            = "iccid"
)

// FulfillmentResult is the provider's answer to a renewal request.
type FulfillmentResult struct {
	Provider types.Provider  `json:"provider"`
	OrderRef string          `json:"order_ref"`
	Message  string          `json:"message"`
	Raw      json.RawMessage `json:"raw"`
}

// CatalogueBundle is one entry of the bundle provider's catalogue, the
// search space for plan-label matching.
type CatalogueBundle struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// FlexString decodes a JSON field the vendors emit sometimes as a string
// and sometimes as a number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// StatusError maps an upstream HTTP status onto the error taxonomy.
func StatusError(code int) error {
	switch {
	case code == 401 || code == 403:
		return fmt.Errorf("%w: upstream status %d", ErrAuthentication, code)
	case code >= 500:
		return fmt.Errorf("%w: upstream status %d", ErrTransient, code)
	}
	return fmt.Errorf("upstream status %d", code)
}

// OptString normalizes an upstream string field: empty and "N/A" collapse
// to nil so that unset stays a first-class state instead of a sentinel.
func OptString(s string) *string {
	t := strings.TrimSpace(s)
	if t == "" || strings.EqualFold(t, "N/A") {
		return nil
	}
	return &t
}

// NormalizeStatus maps free-form upstream status strings onto the shared
// activation status enum. Unrecognized values become Unknown.
func NormalizeStatus(s string) types.ActivationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return types.ActivationStatusActive
	case "inactive":
		return types.ActivationStatusInactive
	case "installed":
		return types.ActivationStatusInstalled
	case "released":
		return types.ActivationStatusReleased
	case "enabled":
		return types.ActivationStatusEnabled
	case "disabled":
		return types.ActivationStatusDisabled
	case "expired":
		return types.ActivationStatusExpired
	}
	return types.ActivationStatusUnknown
}

// Client is the per-provider integration contract. Exactly one upstream
// attempt per call; timeouts come from ctx; lookup failures map onto the
// sentinel taxonomy above.
type Client interface {
	Provider() types.Provider
	// LookupByICCID returns the provider's normalized view of the
	// subscription, or ErrNotFound when the provider has no match.
	LookupByICCID(ctx context.Context, iccid string) (*types.ProviderRecord, error)
	// FulfillRenewal executes the provider-side renewal. Required context
	// keys are validated before any network call.
	FulfillRenewal(ctx context.Context, fctx map[string]string) (*FulfillmentResult, error)
}

// RequireKeys validates a fulfillment context bag. The first missing key is
// reported; the check runs before any network traffic.
func RequireKeys(fctx map[string]string, keys ...string) error {
	for _, k := range keys {
		if fctx[k] == "" {
			return fmt.Errorf("%w: %s", ErrMissingContextKey, k)
		}
	}
	return nil
}

// Registry holds the closed provider set.
type Registry struct {
	clients map[types.Provider]Client
}

func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: map[types.Provider]Client{}}
	for _, c := range clients {
		if c == nil {
			continue
		}
		if _, dup := r.clients[c.Provider()]; dup {
			return nil, fmt.Errorf("duplicate provider client: %s", c.Provider())
		}
		r.clients[c.Provider()] = c
	}
	return r, nil
}

func (r *Registry) Get(p types.Provider) (Client, bool) {
	c, ok := r.clients[p]
	return c, ok
}

// All returns the registered clients in fixed enumeration order.
func (r *Registry) All() []Client {
	out := make([]Client, 0, len(r.clients))
	for _, p := range types.AllProviders {
		if c, ok := r.clients[p]; ok {
			out = append(out, c)
		}
	}
	return out
}
