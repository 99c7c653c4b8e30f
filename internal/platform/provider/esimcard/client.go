package esimcard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/provider"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/tool"
	"github.com/pulsetel/simhub/pkg/types"
)

// Client integrates the SIM-inventory provider. A lookup lists the
// account's SIMs, matches the ICCID, then pulls the per-SIM detail which
// carries the assigned package quantities. Consumed data is not reported
// upstream; it is derived here from initial minus remaining.
type Client struct {
	cfg   cfgpkg.ESIMCardConfig
	log   *zap.SugaredLogger
	httpc *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg *cfgpkg.Config, l *zap.SugaredLogger) *Client {
	return &Client{
		cfg: cfg.Providers.ESIMCard,
		log: l,
		httpc: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Provider() types.Provider {
	return types.ProviderESIMCard
}

type loginResponse struct {
	Status      bool   `json:"status"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"email":    c.cfg.Email,
		"password": c.cfg.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("esimcard login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: esimcard login: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("esimcard login: %w", provider.StatusError(resp.StatusCode))
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("esimcard login decode: %w", err)
	}
	if !lr.Status || lr.AccessToken == "" {
		return "", fmt.Errorf("esimcard login rejected (%s): %w", lr.Message, provider.ErrAuthentication)
	}

	c.token = lr.AccessToken
	c.tokenExp = time.Now().Add(30 * time.Minute)
	return c.token, nil
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("esimcard request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: esimcard %s: %v", provider.ErrTransient, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("esimcard %s: %w", path, provider.StatusError(resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("esimcard decode %s: %w", path, err)
	}
	return nil
}

type simSummary struct {
	ID    provider.FlexString `json:"id"`
	ICCID string              `json:"iccid"`
}

type simListResponse struct {
	Status bool         `json:"status"`
	Data   []simSummary `json:"data"`
}

type simInfo struct {
	ID             provider.FlexString `json:"id"`
	ICCID          string              `json:"iccid"`
	Status         string              `json:"status"`
	LastBundle     string              `json:"last_bundle"`
	CreatedAt      string              `json:"created_at"`
	QRCodeText     string              `json:"qr_code_text"`
	QRCode         string              `json:"qr_code"`
	ActivationCode string              `json:"activation_code"`
	LPA            string              `json:"lpa"`
	APN            string              `json:"apn"`
}

type packageUsage struct {
	InitialQuantity provider.FlexString `json:"initial_data_quantity"`
	InitialUnit     string              `json:"initial_data_unit"`
	RemQuantity     provider.FlexString `json:"rem_data_quantity"`
	RemUnit         string              `json:"rem_data_unit"`
}

type simDetailResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Sim              simInfo        `json:"sim"`
		AssignedPackages []packageUsage `json:"assigned_packages"`
	} `json:"data"`
}

type usageResponse struct {
	Status bool         `json:"status"`
	Data   packageUsage `json:"data"`
}

func (c *Client) LookupByICCID(ctx context.Context, iccid string) (*types.ProviderRecord, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	var list simListResponse
	if err := c.get(ctx, token, "/my-esims", &list); err != nil {
		return nil, err
	}
	if !list.Status {
		return nil, fmt.Errorf("%w: esimcard sim list rejected", provider.ErrTransient)
	}

	var match *simSummary
	for i := range list.Data {
		if tool.ICCIDMatches(list.Data[i].ICCID, iccid) {
			match = &list.Data[i]
			break
		}
	}
	if match == nil {
		return nil, provider.ErrNotFound
	}

	var detail simDetailResponse
	if err := c.get(ctx, token, "/my-esims/"+match.ID.String(), &detail); err != nil {
		return nil, err
	}
	if !detail.Status {
		return nil, fmt.Errorf("%w: esimcard sim detail rejected", provider.ErrTransient)
	}

	sim := detail.Data.Sim
	rec := &types.ProviderRecord{
		Provider:         types.ProviderESIMCard,
		ExternalID:       sim.ID.String(),
		ICCID:            sim.ICCID,
		PlanLabel:        sim.LastBundle,
		ActivationStatus: provider.NormalizeStatus(sim.Status),
		PurchaseTime:     parseTime(sim.CreatedAt),
		ActivationCode:   provider.OptString(firstNonEmpty(sim.QRCodeText, sim.QRCode, sim.ActivationCode, sim.LPA)),
		AccessPointName:  provider.OptString(sim.APN),
	}
	if rec.ICCID == "" {
		rec.ICCID = iccid
	}

	if len(detail.Data.AssignedPackages) > 0 {
		c.applyUsage(rec, detail.Data.AssignedPackages[0])
	} else {
		// The overall usage endpoint is a fallback for SIMs whose package
		// assignment has not materialized yet. Its failure is tolerable.
		var usage usageResponse
		if err := c.get(ctx, token, "/my-sim/"+match.ID.String()+"/usage", &usage); err != nil {
			c.log.Warnw("esimcard usage fetch failed", "sim_id", match.ID.String(), "err", err)
		} else if usage.Status {
			c.applyUsage(rec, usage.Data)
		}
	}
	return rec, nil
}

// applyUsage fills the data quantity fields from a package assignment.
// Consumed is initial minus remaining; a negative result means the
// upstream counters disagree and is clamped to zero.
func (c *Client) applyUsage(rec *types.ProviderRecord, pkg packageUsage) {
	initialStr := strings.TrimSpace(pkg.InitialQuantity.String())
	remStr := strings.TrimSpace(pkg.RemQuantity.String())
	if initialStr == "" {
		return
	}

	initialUnit := pkg.InitialUnit
	if initialUnit == "" {
		initialUnit = "GB"
	}
	capacity := initialStr + " " + initialUnit
	rec.DataCapacity = &capacity

	if remStr == "" {
		return
	}
	remUnit := pkg.RemUnit
	if remUnit == "" {
		remUnit = "GB"
	}
	remaining := remStr + " " + remUnit
	rec.DataRemaining = &remaining

	initial, err1 := strconv.ParseFloat(initialStr, 64)
	rem, err2 := strconv.ParseFloat(remStr, 64)
	if err1 != nil || err2 != nil {
		return
	}
	consumedVal := initial - rem
	if consumedVal < 0 {
		c.log.Warnw("esimcard reports remaining above initial, clamping consumed to zero",
			"iccid", rec.ICCID, "initial", initialStr, "remaining", remStr)
		consumedVal = 0
	}
	consumed := fmt.Sprintf("%.2f %s", consumedVal, remUnit)
	rec.DataConsumed = &consumed
}

type purchaseResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID provider.FlexString `json:"id"`
	} `json:"data"`
}

// FulfillRenewal tops up a SIM with a package. Required context keys:
// deviceIdentifier, packageId. The upstream payload calls the device
// identifier "imei".
func (c *Client) FulfillRenewal(ctx context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
	if err := provider.RequireKeys(fctx, provider.CtxDeviceIdentifier, provider.CtxPackageID); err != nil {
		return nil, err
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{
		"imei":            fctx[provider.CtxDeviceIdentifier],
		"package_type_id": fctx[provider.CtxPackageID],
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/purchase-package", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("esimcard purchase request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: esimcard purchase: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("esimcard purchase: %w", provider.StatusError(resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("esimcard purchase read: %w", err)
	}
	var pr purchaseResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("esimcard purchase decode: %w", err)
	}
	if !pr.Status {
		return nil, fmt.Errorf("esimcard purchase rejected: %s", pr.Message)
	}
	return &provider.FulfillmentResult{
		Provider: types.ProviderESIMCard,
		OrderRef: pr.Data.ID.String(),
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
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(New),
)
