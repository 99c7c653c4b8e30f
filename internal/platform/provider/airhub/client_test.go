package airhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsetel/simhub/internal/platform/provider"
	cfgpkg "github.com/pulsetel/simhub/pkg/config"
	"github.com/pulsetel/simhub/pkg/types"
)

type upstream struct {
	loginBody      string
	ordersBody     string
	activationBody string
	renewBody      string
	lastRenew      map[string]any
}

func (u *upstream) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/Authentication/UserLogin", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "partner@example.com", creds["userName"])
		_, _ = w.Write([]byte(u.loginBody))
	})
	mux.HandleFunc("/api/ESIM/GetOrderDetail", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "P-77", body["partnerCode"])
		_, _ = w.Write([]byte(u.ordersBody))
	})
	mux.HandleFunc("/api/ESIM/GetActivationCode", func(w http.ResponseWriter, _ *http.Request) {
		if u.activationBody == "" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(u.activationBody))
	})
	mux.HandleFunc("/api/Renew/InsertRenew", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&u.lastRenew))
		_, _ = w.Write([]byte(u.renewBody))
	})
	return mux
}

func newTestClient(t *testing.T, u *upstream) *Client {
	t.Helper()
	if u.loginBody == "" {
		u.loginBody = `{"isSuccess":true,"token":"tok-1","data":{"partnerCode":"P-77"}}`
	}
	srv := httptest.NewServer(u.handler(t))
	t.Cleanup(srv.Close)
	cfg := &cfgpkg.Config{Providers: cfgpkg.ProvidersConfig{Airhub: cfgpkg.AirhubConfig{
		BaseURL:  srv.URL,
		Username: "partner@example.com",
		Password: "secret",
	}}}
	return New(cfg, zap.NewNop().Sugar())
}

func TestLookupByICCID_ScansOrderList(t *testing.T) {
	// The upstream key for validity really is "vaildity".
	u := &upstream{
		ordersBody: `{"isSuccess":true,"data":[
			{"orderId":9001,"simID":"8988303000099999999","planName":"Other","isActive":true},
			{"orderId":9002,"simID":"8988303000012345678","planName":"Global 3GB, 30 Days",
				"isActive":true,"purchaseDate":"2025-06-01","vaildity":"30",
				"capacity":3,"capacityUnit":"GB","dataConsumed":"1.20 GB","dataRemaining":"1.80 GB"}]}`,
		activationBody: `{"isSuccess":true,"9002":{"activationCode":"LPA:1$smdp.example$X","apn":"internet"}}`,
	}
	c := newTestClient(t, u)

	rec, err := c.LookupByICCID(context.Background(), "8988303000012345678")
	require.NoError(t, err)
	require.Equal(t, types.ProviderAirhub, rec.Provider)
	require.Equal(t, "9002", rec.ExternalID)
	require.Equal(t, "Global 3GB, 30 Days", rec.PlanLabel)
	require.Equal(t, types.ActivationStatusActive, rec.ActivationStatus)
	require.NotNil(t, rec.ValidityDays)
	require.Equal(t, 30, *rec.ValidityDays)
	require.Equal(t, "3 GB", *rec.DataCapacity)
	require.Equal(t, "1.20 GB", *rec.DataConsumed)
	require.Equal(t, "1.80 GB", *rec.DataRemaining)
	require.Equal(t, "LPA:1$smdp.example$X", *rec.ActivationCode)
	require.Equal(t, "internet", *rec.AccessPointName)
}

func TestLookupByICCID_LegacyOrderListKey(t *testing.T) {
	u := &upstream{
		ordersBody: `{"isSuccess":true,"getOrderdetails":[
			{"orderId":9002,"simID":"8988303000012345678","planName":"Legacy Plan","isActive":false}]}`,
	}
	c := newTestClient(t, u)

	rec, err := c.LookupByICCID(context.Background(), "8988303000012345678")
	require.NoError(t, err)
	require.Equal(t, "9002", rec.ExternalID)
	require.Equal(t, types.ActivationStatusInactive, rec.ActivationStatus)
}

func TestLookupByICCID_NotInOrderList(t *testing.T) {
	u := &upstream{ordersBody: `{"isSuccess":true,"data":[]}`}
	c := newTestClient(t, u)

	_, err := c.LookupByICCID(context.Background(), "8988303000012345678")
	require.ErrorIs(t, err, provider.ErrNotFound)
}

func TestLookupByICCID_ActivationOutageDegrades(t *testing.T) {
	u := &upstream{
		ordersBody: `{"isSuccess":true,"data":[
			{"orderId":9002,"simID":"8988303000012345678","planName":"Plan","isActive":true}]}`,
	}
	c := newTestClient(t, u)

	rec, err := c.LookupByICCID(context.Background(), "8988303000012345678")
	require.NoError(t, err)
	require.Nil(t, rec.ActivationCode)
}

func TestLookupByICCID_RejectedLogin(t *testing.T) {
	u := &upstream{loginBody: `{"isSuccess":false,"message":"bad credentials"}`}
	c := newTestClient(t, u)

	_, err := c.LookupByICCID(context.Background(), "8988303000012345678")
	require.ErrorIs(t, err, provider.ErrAuthentication)
}

func TestFulfillRenewal_ExtendsOrder(t *testing.T) {
	u := &upstream{renewBody: `{"isSuccess":true,"message":"Renewed"}`}
	c := newTestClient(t, u)

	res, err := c.FulfillRenewal(context.Background(), map[string]string{
		provider.CtxOrderReference: "9002",
		provider.CtxRenewalDays:    "30",
		provider.CtxChargedAmount:  "9.99",
	})
	require.NoError(t, err)
	require.Equal(t, "9002", res.OrderRef)
	// Days travel as an integer, the amount as a string.
	require.Equal(t, float64(30), u.lastRenew["renewalDays"])
	require.Equal(t, "9.99", u.lastRenew["userAmount"])
	require.Equal(t, "9002", u.lastRenew["orderID"])
}

func TestFulfillRenewal_RequiredKeys(t *testing.T) {
	c := newTestClient(t, &upstream{})

	_, err := c.FulfillRenewal(context.Background(), map[string]string{
		provider.CtxOrderReference: "9002",
		provider.CtxRenewalDays:    "30",
	})
	require.ErrorIs(t, err, provider.ErrMissingContextKey)

	_, err = c.FulfillRenewal(context.Background(), map[string]string{
		provider.CtxOrderReference: "9002",
		provider.CtxRenewalDays:    "a month",
		provider.CtxChargedAmount:  "9.99",
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, provider.ErrMissingContextKey)
}
