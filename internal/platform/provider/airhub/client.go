package airhub

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

// Client integrates the order-oriented provider. The upstream API has no
// per-ICCID lookup, so the partner's recent orders are fetched and scanned
// for a matching SIM. Login returns a bearer token plus the partner code,
// and every subsequent call needs both.
type Client struct {
	cfg   cfgpkg.AirhubConfig
	log   *zap.SugaredLogger
	httpc *http.Client

	mu          sync.Mutex
	token       string
	partnerCode string
	tokenExp    time.Time
}

func New(cfg *cfgpkg.Config, l *zap.SugaredLogger) *Client {
	return &Client{
		cfg: cfg.Providers.Airhub,
		log: l,
		httpc: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *Client) Provider() types.Provider {
	return types.ProviderAirhub
}

type loginResponse struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
	Token     string `json:"token"`
	Data      struct {
		PartnerCode provider.FlexString `json:"partnerCode"`
	} `json:"data"`
}

func (c *Client) ensureSession(ctx context.Context) (token, partnerCode string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, c.partnerCode, nil
	}

	body, _ := json.Marshal(map[string]string{
		"userName": c.cfg.Username,
		"password": c.cfg.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/Authentication/UserLogin", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("airhub login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: airhub login: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("airhub login: %w", provider.StatusError(resp.StatusCode))
	}
	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", "", fmt.Errorf("airhub login decode: %w", err)
	}
	if !lr.IsSuccess || lr.Token == "" {
		return "", "", fmt.Errorf("airhub login rejected (%s): %w", lr.Message, provider.ErrAuthentication)
	}
	if lr.Data.PartnerCode == "" {
		return "", "", fmt.Errorf("airhub login returned no partner code: %w", provider.ErrAuthentication)
	}

	c.token = lr.Token
	c.partnerCode = string(lr.Data.PartnerCode)
	c.tokenExp = time.Now().Add(30 * time.Minute)
	return c.token, c.partnerCode, nil
}

type orderItem struct {
	OrderID       provider.FlexString `json:"orderId"`
	SimID         string              `json:"simID"`
	ICCID         string              `json:"iccid"`
	PlanName      string              `json:"planName"`
	IsActive      bool                `json:"isActive"`
	PurchaseDate  string              `json:"purchaseDate"`
	Validity      provider.FlexString `json:"vaildity"` // sic: the upstream key is misspelled
	Capacity      provider.FlexString `json:"capacity"`
	CapacityUnit  string              `json:"capacityUnit"`
	DataConsumed  provider.FlexString `json:"dataConsumed"`
	DataRemaining provider.FlexString `json:"dataRemaining"`
}

// The vendor has shipped the order list under two different keys.
type orderListResponse struct {
	IsSuccess bool        `json:"isSuccess"`
	Data      []orderItem `json:"data"`
	Legacy    []orderItem `json:"getOrderdetails"`
}

func (r *orderListResponse) orders() []orderItem {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Legacy
}

func (c *Client) LookupByICCID(ctx context.Context, iccid string) (*types.ProviderRecord, error) {
	token, partnerCode, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{
		"partnerCode": partnerCode,
		"flag":        "1",
		"fromDate":    "",
		"toDate":      "",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/ESIM/GetOrderDetail", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("airhub orders request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: airhub orders: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("airhub orders: %w", provider.StatusError(resp.StatusCode))
	}
	var lr orderListResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("airhub orders decode: %w", err)
	}

	items := lr.orders()
	var match *orderItem
	for i := range items {
		if tool.ICCIDMatches(items[i].SimID, iccid) || tool.ICCIDMatches(items[i].ICCID, iccid) {
			match = &items[i]
			break
		}
	}
	if match == nil {
		return nil, provider.ErrNotFound
	}

	simICCID := match.SimID
	if simICCID == "" {
		simICCID = match.ICCID
	}
	status := types.ActivationStatusInactive
	if match.IsActive {
		status = types.ActivationStatusActive
	}
	rec := &types.ProviderRecord{
		Provider:         types.ProviderAirhub,
		ExternalID:       string(match.OrderID),
		ICCID:            simICCID,
		PlanLabel:        match.PlanName,
		ActivationStatus: status,
		PurchaseTime:     parseTime(match.PurchaseDate),
		DataConsumed:     provider.OptString(string(match.DataConsumed)),
		DataRemaining:    provider.OptString(string(match.DataRemaining)),
	}
	if v, err := strconv.Atoi(strings.TrimSpace(string(match.Validity))); err == nil && v > 0 {
		rec.ValidityDays = &v
	}
	if capacity := strings.TrimSpace(string(match.Capacity)); capacity != "" && !strings.EqualFold(capacity, "N/A") {
		unit := match.CapacityUnit
		if unit == "" {
			unit = "GB"
		}
		s := capacity + " " + unit
		rec.DataCapacity = &s
	}

	// The activation details are a separate call and non-essential; a
	// failure degrades the record instead of discarding it.
	if act, err := c.activationDetails(ctx, token, partnerCode, string(match.OrderID)); err != nil {
		c.log.Warnw("airhub activation details failed", "order_id", string(match.OrderID), "err", err)
	} else if act != nil {
		rec.ActivationCode = provider.OptString(act.ActivationCode)
		rec.AccessPointName = provider.OptString(act.APN)
	}
	return rec, nil
}

type activationDetail struct {
	ActivationCode string `json:"activationCode"`
	APN            string `json:"apn"`
}

// activationDetails fetches QR/APN data for one order. The response is a
// map keyed by order id, with envelope fields mixed in at the same level,
// so it is decoded loosely.
func (c *Client) activationDetails(ctx context.Context, token, partnerCode, orderID string) (*activationDetail, error) {
	body, _ := json.Marshal(map[string]any{
		"partnerCode": partnerCode,
		"orderid":     []string{orderID},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/ESIM/GetActivationCode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, provider.StatusError(resp.StatusCode)
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	entry, ok := raw[orderID]
	if !ok {
		return nil, nil
	}
	var ad activationDetail
	if err := json.Unmarshal(entry, &ad); err != nil {
		return nil, err
	}
	return &ad, nil
}

type renewResponse struct {
	IsSuccess bool   `json:"isSuccess"`
	Message   string `json:"message"`
}

// FulfillRenewal extends an existing order. Required context keys:
// orderReference, renewalDays, chargedAmount. The amount travels as a
// string because that is what the upstream accepts.
func (c *Client) FulfillRenewal(ctx context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
	if err := provider.RequireKeys(fctx, provider.CtxOrderReference, provider.CtxRenewalDays, provider.CtxChargedAmount); err != nil {
		return nil, err
	}
	days, err := strconv.Atoi(fctx[provider.CtxRenewalDays])
	if err != nil {
		return nil, fmt.Errorf("airhub: renewalDays must be an integer, got %q", fctx[provider.CtxRenewalDays])
	}

	token, _, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]any{
		"userAmount":  fctx[provider.CtxChargedAmount],
		"orderID":     fctx[provider.CtxOrderReference],
		"renewalDays": days,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/Renew/InsertRenew", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("airhub renew request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: airhub renew: %v", provider.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("airhub renew: %w", provider.StatusError(resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("airhub renew read: %w", err)
	}
	var rr renewResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("airhub renew decode: %w", err)
	}
	if !rr.IsSuccess {
		return nil, fmt.Errorf("airhub renew rejected: %s", rr.Message)
	}
	return &provider.FulfillmentResult{
		Provider: types.ProviderAirhub,
		OrderRef: fctx[provider.CtxOrderReference],
		Message:  rr.Message,
		Raw:      raw,
	}, nil
}

// parseTime accepts the timestamp formats the order API is known to emit.
// Anything else is treated as unset.
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
