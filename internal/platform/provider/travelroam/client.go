package travelroam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/provider"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/types"
)

// Client integrates the bundle/roaming provider. Auth is two static
// headers, no token dance. The upstream reports data quantities in raw
// bytes; records keep them as "<n> B" strings and unit conversion happens
// at merge time.
type Client struct {
	cfg   cfgpkg.TravelRoamConfig
	log   *zap.SugaredLogger
	httpc *http.Client
}

func New(cfg *cfgpkg.Config, l *zap.SugaredLogger) *Client {
	return &Client{
		cfg: cfg.Providers.TravelRoam,
		log: l,
		httpc: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Provider() types.Provider {
	return types.ProviderTravelRoam
}

// post sends an authenticated JSON request and decodes the response body
// into out. Out may be nil when only the raw body is wanted.
func (c *Client) post(ctx context.Context, path string, payload any, out any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("travelroam encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("travelroam request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("clientSecret", c.cfg.ClientSecret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: travelroam %s: %v", provider.ErrTransient, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("travelroam read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, provider.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("travelroam %s: %w", path, provider.StatusError(resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("travelroam decode %s: %w", path, err)
		}
	}
	return raw, nil
}

type esimDetails struct {
	ICCID                  string              `json:"iccid"`
	MatchingID             provider.FlexString `json:"matchingId"`
	ProfileStatus          string              `json:"profileStatus"`
	SmdpAddress            string              `json:"smdpAddress"`
	FirstInstalledDateTime int64               `json:"firstInstalledDateTime"`
}

type bundleAssignment struct {
	CallTypeGroup     string  `json:"callTypeGroup"`
	InitialQuantity   float64 `json:"initialQuantity"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	StartTime         string  `json:"startTime"`
	EndTime           string  `json:"endTime"`
}

type appliedBundle struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Assignments []bundleAssignment `json:"assignments"`
}

type appliedBundlesResponse struct {
	Bundles []appliedBundle `json:"bundles"`
}

type locationResponse struct {
	NetworkName      string `json:"networkName"`
	NetworkBrandName string `json:"networkBrandName"`
	Country          string `json:"country"`
}

func (c *Client) LookupByICCID(ctx context.Context, iccid string) (*types.ProviderRecord, error) {
	var details esimDetails
	if _, err := c.post(ctx, "/esims/details", map[string]string{"iccid": iccid}, &details); err != nil {
		return nil, err
	}
	if details.ICCID == "" && details.MatchingID == "" && details.ProfileStatus == "" {
		return nil, provider.ErrNotFound
	}

	rec := &types.ProviderRecord{
		Provider:         types.ProviderTravelRoam,
		ExternalID:       details.MatchingID.String(),
		ICCID:            details.ICCID,
		ActivationStatus: provider.NormalizeStatus(details.ProfileStatus),
		ActivationCode:   provider.OptString(details.SmdpAddress),
	}
	if rec.ICCID == "" {
		rec.ICCID = iccid
	}
	if details.FirstInstalledDateTime > 0 {
		t := time.UnixMilli(details.FirstInstalledDateTime)
		rec.PurchaseTime = &t
	}

	var bundles appliedBundlesResponse
	if _, err := c.post(ctx, "/esims/applied/bundles", map[string]string{"iccid": iccid}, &bundles); err != nil {
		return nil, err
	}
	if len(bundles.Bundles) > 0 {
		c.applyBundle(rec, bundles.Bundles[0])
	}

	// Location drives the network/APN enrichment only; losing it must not
	// cost us the record.
	var loc locationResponse
	if _, err := c.post(ctx, "/esims/location", map[string]string{"iccid": iccid}, &loc); err != nil {
		c.log.Warnw("travelroam location fetch failed", "iccid", iccid, "err", err)
	} else if name := firstNonEmpty(loc.NetworkName, loc.NetworkBrandName); name != "" {
		apn := name
		if loc.Country != "" {
			apn = fmt.Sprintf("%s (%s)", name, loc.Country)
		}
		rec.AccessPointName = &apn
	}
	return rec, nil
}

// applyBundle maps the first applied bundle's data assignment onto the
// record. Quantities stay in bytes.
func (c *Client) applyBundle(rec *types.ProviderRecord, b appliedBundle) {
	if lbl := firstNonEmpty(b.Description, b.Name); lbl != "" {
		rec.PlanLabel = lbl
	}
	for _, a := range b.Assignments {
		if !strings.EqualFold(a.CallTypeGroup, "data") {
			continue
		}
		capacity := fmt.Sprintf("%.0f B", a.InitialQuantity)
		remaining := fmt.Sprintf("%.0f B", a.RemainingQuantity)
		consumedVal := a.InitialQuantity - a.RemainingQuantity
		if consumedVal < 0 {
			c.log.Warnw("travelroam reports remaining above initial, clamping consumed to zero",
				"iccid", rec.ICCID, "initial", a.InitialQuantity, "remaining", a.RemainingQuantity)
			consumedVal = 0
		}
		consumed := fmt.Sprintf("%.0f B", consumedVal)
		rec.DataCapacity = &capacity
		rec.DataRemaining = &remaining
		rec.DataConsumed = &consumed
		rec.BundleStartTime = parseTime(a.StartTime)
		rec.BundleEndTime = parseTime(a.EndTime)
		break
	}
}

type catalogueEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type catalogueResponse struct {
	Bundles []catalogueEntry `json:"bundles"`
}

// SearchCatalogue lists purchasable bundles, scoped to country ISO codes
// when given, otherwise filtered by a description substring. Catalogue ids
// are the bundle names ("esim_1GB_7D_TR_U" style codes).
func (c *Client) SearchCatalogue(ctx context.Context, countries, description string) ([]provider.CatalogueBundle, error) {
	payload := map[string]string{}
	if countries != "" {
		payload["countries"] = countries
	}
	if description != "" {
		payload["description"] = description
	}

	var cr catalogueResponse
	if _, err := c.post(ctx, "/catalogue", payload, &cr); err != nil {
		return nil, err
	}
	out := make([]provider.CatalogueBundle, 0, len(cr.Bundles))
	for _, b := range cr.Bundles {
		out = append(out, provider.CatalogueBundle{
			ID:          b.Name,
			Description: b.Description,
		})
	}
	return out, nil
}

type processOrderResponse struct {
	OrderReference provider.FlexString `json:"orderReference"`
	Status         string              `json:"status"`
	Message        string              `json:"message"`
}

// FulfillRenewal tops up (or provisions) a bundle. Required context key:
// bundleId. When the optional iccid key is present the order targets the
// existing eSIM instead of creating a new one.
func (c *Client) FulfillRenewal(ctx context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
	if err := provider.RequireKeys(fctx, provider.CtxBundleID); err != nil {
		return nil, err
	}

	payload := map[string]string{
		"bundleName": fctx[provider.CtxBundleID],
		"orderType":  "COUNTRY",
	}
	if iccid := fctx[provider.CtxICCID]; iccid != "" {
		payload["iccid"] = iccid
	}

	var pr processOrderResponse
	raw, err := c.post(ctx, "/processorders", payload, &pr)
	if err != nil {
		return nil, fmt.Errorf("travelroam process order: %w", err)
	}
	return &provider.FulfillmentResult{
		Provider: types.ProviderTravelRoam,
		OrderRef: pr.OrderReference.String(),
		Message:  pr.Message,
		Raw:      raw,
	}, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(New),
)
