package renewal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/internal/platform/payment"
	"github.com/pulsetel/simhub/internal/platform/provider"
	"github.com/pulsetel/simhub/internal/platform/provider/fake"
	"github.com/pulsetel/simhub/pkg/tool"
	"github.com/pulsetel/simhub/pkg/types"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "simhub_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=admin password=admin dbname=simhub_test sslmode=disable", host, port.Port())
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.RenewalOrder{},
		&models.PaymentTransaction{},
		&models.RenewalPackage{},
	))
	return db
}

// fakeGateway scripts the hosted-checkout provider. There is deliberately
// no refund hook: a test that needs one is a test of behavior the renewal
// flow must not have.
type fakeGateway struct {
	mu            sync.Mutex
	paid          bool
	createErr     error
	createCalls   int
	retrieveCalls int
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req payment.CreateCheckoutRequest) (*payment.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &payment.Checkout{
		Handle:      fmt.Sprintf("cs_test_%s_%d", req.OrderID, g.createCalls),
		RedirectURL: "https://checkout.example/pay/" + req.OrderID,
	}, nil
}

func (g *fakeGateway) RetrieveCheckout(_ context.Context, handle string) (*payment.CheckoutStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieveCalls++
	status := "unpaid"
	if g.paid {
		status = "paid"
	}
	return &payment.CheckoutStatus{
		Handle:        handle,
		Paid:          g.paid,
		PaymentStatus: status,
		ChargeRef:     "pi_test_1",
		Raw:           json.RawMessage(`{"payment_status":"` + status + `"}`),
	}, nil
}

func (g *fakeGateway) VerifyWebhook([]byte, string) (*payment.WebhookEvent, error) {
	return nil, fmt.Errorf("not used in these tests")
}

func (g *fakeGateway) retrieves() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retrieveCalls
}

type matcherStub struct {
	bundleID string
	err      error
	calls    int
}

func (m *matcherStub) FindBundle(context.Context, string, string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.bundleID, nil
}

type converterStub struct {
	factor float64
	err    error
}

func (c *converterStub) ConvertCents(_ context.Context, amountCents int64, from, to string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if from == to {
		return amountCents, nil
	}
	return int64(float64(amountCents) * c.factor), nil
}

type notifierStub struct {
	mu     sync.Mutex
	orders []string
}

func (n *notifierStub) NotifyCompleted(_ context.Context, order *models.RenewalOrder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.OrderID)
}

func (n *notifierStub) completions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type renewalFixture struct {
	mgr      Manager
	gateway  *fakeGateway
	matcher  *matcherStub
	notifier *notifierStub
	clients  map[types.Provider]*fake.Client
}

func newFixture(t *testing.T, db *gorm.DB) *renewalFixture {
	t.Helper()
	clients := map[types.Provider]*fake.Client{
		types.ProviderAirhub:     fake.New(types.ProviderAirhub),
		types.ProviderESIMCard:   fake.New(types.ProviderESIMCard),
		types.ProviderTravelRoam: fake.New(types.ProviderTravelRoam),
	}
	registry, err := provider.NewRegistry(
		clients[types.ProviderAirhub],
		clients[types.ProviderESIMCard],
		clients[types.ProviderTravelRoam],
	)
	require.NoError(t, err)

	f := &renewalFixture{
		gateway:  &fakeGateway{paid: true},
		matcher:  &matcherStub{bundleID: "esim_1gb_7d_tr_u"},
		notifier: &notifierStub{},
		clients:  clients,
	}
	f.mgr = NewService(db, zap.NewNop().Sugar(), f.gateway, registry, f.matcher, &converterStub{factor: 1}, f.notifier)
	return f
}

func seedPackage(t *testing.T, db *gorm.DB, p types.Provider, packageID string) *models.RenewalPackage {
	t.Helper()
	pkg := &models.RenewalPackage{
		ID:            tool.GenerateUUIDV7(),
		Provider:      p,
		Name:          fmt.Sprintf("eSIM, 1GB, 7 Days, Turkey, %s", packageID),
		PackageID:     packageID,
		DataAmount:    "1 GB",
		ValidityDays:  7,
		PriceCentsUSD: 999,
		CountryCode:   "TR",
		Active:        true,
	}
	require.NoError(t, db.Create(pkg).Error)
	return pkg
}

func loadTransaction(t *testing.T, db *gorm.DB, orderPK string) *models.PaymentTransaction {
	t.Helper()
	var txn models.PaymentTransaction
	require.NoError(t, db.Where("renewal_order_id = ?", orderPK).First(&txn).Error)
	return &txn
}

func TestRenewalOrderLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	db := setupDB(t)
	ctx := context.Background()

	t.Run("paid order is fulfilled and completed", func(t *testing.T) {
		f := newFixture(t, db)
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-1")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:         "8988303000012345678",
			PackageID:     pkg.PackageID,
			CustomerEmail: "customer@example.com",
		})
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusPending, created.Order.Status)
		require.NotEmpty(t, created.SessionID)
		require.NotEmpty(t, created.CheckoutURL)
		require.Equal(t, types.PaymentStatusPending, loadTransaction(t, db, created.Order.ID).Status)

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusCompleted, order.Status)
		require.NotNil(t, order.CompletedAt)
		require.NotNil(t, order.ProviderOrderRef)
		require.Equal(t, 1, f.clients[types.ProviderESIMCard].FulfillCalls())
		require.Equal(t, 1, f.notifier.completions())

		txn := loadTransaction(t, db, order.ID)
		require.Equal(t, types.PaymentStatusSucceeded, txn.Status)
		require.NotNil(t, txn.ChargeRef)
		require.Equal(t, "pi_test_1", *txn.ChargeRef)
	})

	t.Run("unpaid session fails the order before fulfillment", func(t *testing.T) {
		f := newFixture(t, db)
		f.gateway.paid = false
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-2")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.ErrorIs(t, err, ErrPaymentNotConfirmed)
		require.Equal(t, types.OrderStatusFailed, order.Status)
		require.Zero(t, f.clients[types.ProviderESIMCard].FulfillCalls(), "unpaid orders must never reach a provider")
		require.False(t, order.PaymentCaptured())
		require.Equal(t, types.PaymentStatusFailed, loadTransaction(t, db, order.ID).Status)
	})

	t.Run("provider failure after capture leaves PROVIDER_FAILED and keeps the payment", func(t *testing.T) {
		f := newFixture(t, db)
		f.clients[types.ProviderESIMCard].FulfillFn = func(context.Context, map[string]string) (*provider.FulfillmentResult, error) {
			return nil, provider.ErrTransient
		}
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-3")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		var fe *FulfillmentError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, order.OrderID, fe.OrderID)
		require.Equal(t, "provider_fulfill", fe.Step)
		require.ErrorIs(t, fe, provider.ErrTransient)

		require.Equal(t, types.OrderStatusProviderFailed, order.Status)
		require.True(t, order.PaymentCaptured())
		require.NotEmpty(t, order.FailureDetail())
		require.Zero(t, f.notifier.completions())
		// The captured payment is never reverted.
		require.Equal(t, types.PaymentStatusSucceeded, loadTransaction(t, db, order.ID).Status)
	})

	t.Run("webhook redelivery never retries a PROVIDER_FAILED order", func(t *testing.T) {
		f := newFixture(t, db)
		f.clients[types.ProviderESIMCard].FulfillFn = func(context.Context, map[string]string) (*provider.FulfillmentResult, error) {
			return nil, provider.ErrTransient
		}
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-4")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)

		_, err = f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.Error(t, err)
		require.Equal(t, 1, f.clients[types.ProviderESIMCard].FulfillCalls())

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusProviderFailed, order.Status)
		require.Equal(t, 1, f.clients[types.ProviderESIMCard].FulfillCalls(), "redelivery is an ack, not a retry")
	})

	t.Run("operator retry completes a PROVIDER_FAILED order", func(t *testing.T) {
		f := newFixture(t, db)
		f.clients[types.ProviderESIMCard].FulfillFn = func(context.Context, map[string]string) (*provider.FulfillmentResult, error) {
			return nil, provider.ErrTransient
		}
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-5")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)
		_, err = f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.Error(t, err)

		// The provider recovers; the operator retries.
		f.clients[types.ProviderESIMCard].FulfillFn = nil
		order, err := f.mgr.RetryFulfillment(ctx, created.Order.OrderID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusCompleted, order.Status)
		require.Equal(t, 1, f.notifier.completions())
	})

	t.Run("confirm is idempotent after completion", func(t *testing.T) {
		f := newFixture(t, db)
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-6")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)

		_, err = f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, 1, f.gateway.retrieves())

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusCompleted, order.Status)
		require.Equal(t, 1, f.gateway.retrieves(), "confirmed orders skip gateway verification")
		require.Equal(t, 1, f.clients[types.ProviderESIMCard].FulfillCalls())
	})

	t.Run("retry requires a fulfillable state", func(t *testing.T) {
		f := newFixture(t, db)
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-7")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)

		_, err = f.mgr.RetryFulfillment(ctx, created.Order.OrderID)
		require.ErrorIs(t, err, ErrInvalidTransition)

		_, err = f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		_, err = f.mgr.RetryFulfillment(ctx, created.Order.OrderID)
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown session and unknown package are rejected", func(t *testing.T) {
		f := newFixture(t, db)

		_, err := f.mgr.ConfirmAndFulfill(ctx, "cs_test_does_not_exist")
		require.ErrorIs(t, err, ErrOrderNotFound)

		_, err = f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: "no-such-package",
		})
		require.ErrorIs(t, err, ErrPackageNotFound)

		_, err = f.mgr.GetOrder(ctx, "RN-DOES-NOT-EXIST")
		require.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("checkout failure fails the order at creation", func(t *testing.T) {
		f := newFixture(t, db)
		f.gateway.createErr = fmt.Errorf("gateway unavailable")
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-lifecycle-8")

		_, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.Error(t, err)

		var order models.RenewalOrder
		require.NoError(t, db.Where("iccid = ? AND plan_name = ?", "8988303000012345678", pkg.Name).
			Order("created_at desc").First(&order).Error)
		require.Equal(t, types.OrderStatusFailed, order.Status)
		require.False(t, order.PaymentCaptured())
	})
}

func TestRenewalFulfillmentContexts(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	db := setupDB(t)
	ctx := context.Background()

	t.Run("airhub resolves the order reference by lookup", func(t *testing.T) {
		f := newFixture(t, db)
		f.clients[types.ProviderAirhub].LookupFn = func(context.Context, string) (*types.ProviderRecord, error) {
			return &types.ProviderRecord{Provider: types.ProviderAirhub, ExternalID: "AH-REF-77"}, nil
		}
		var captured map[string]string
		f.clients[types.ProviderAirhub].FulfillFn = func(_ context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
			captured = fctx
			return &provider.FulfillmentResult{Provider: types.ProviderAirhub, OrderRef: "AH-RENEW-1"}, nil
		}
		pkg := seedPackage(t, db, types.ProviderAirhub, "pkg-ctx-1")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
		})
		require.NoError(t, err)
		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusCompleted, order.Status)
		require.Equal(t, "AH-REF-77", captured[provider.CtxOrderReference])
		require.Equal(t, "7", captured[provider.CtxRenewalDays])
		require.Equal(t, "9.99", captured[provider.CtxChargedAmount])
	})

	t.Run("travelroam resolves a missing bundle id through the matcher", func(t *testing.T) {
		f := newFixture(t, db)
		var captured map[string]string
		f.clients[types.ProviderTravelRoam].FulfillFn = func(_ context.Context, fctx map[string]string) (*provider.FulfillmentResult, error) {
			captured = fctx
			return &provider.FulfillmentResult{Provider: types.ProviderTravelRoam, OrderRef: "TR-1"}, nil
		}
		// Bundle-provider packages may carry no provider-side id at all.
		pkg := seedPackage(t, db, types.ProviderTravelRoam, "")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.ID, // catalog row id, the package_id is empty
		})
		require.NoError(t, err)
		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		require.NoError(t, err)
		require.Equal(t, types.OrderStatusCompleted, order.Status)
		require.Equal(t, 1, f.matcher.calls)
		require.Equal(t, "esim_1gb_7d_tr_u", captured[provider.CtxBundleID])
		require.Equal(t, "8988303000012345678", captured[provider.CtxICCID])
	})

	t.Run("matcher miss becomes PROVIDER_FAILED with the payment captured", func(t *testing.T) {
		f := newFixture(t, db)
		f.matcher.err = fmt.Errorf("no catalogue bundle matches plan")
		pkg := seedPackage(t, db, types.ProviderTravelRoam, "")

		created, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.ID,
		})
		require.NoError(t, err)

		order, err := f.mgr.ConfirmAndFulfill(ctx, created.SessionID)
		var fe *FulfillmentError
		require.ErrorAs(t, err, &fe)
		require.Equal(t, "resolve_parameters", fe.Step)
		require.Equal(t, types.OrderStatusProviderFailed, order.Status)
		require.True(t, order.PaymentCaptured())
		require.Zero(t, f.clients[types.ProviderTravelRoam].FulfillCalls())
	})
}

func TestRenewalPackagesAndScan(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	db := setupDB(t)
	ctx := context.Background()
	f := newFixture(t, db)

	seedPackage(t, db, types.ProviderESIMCard, "pkg-scan-1")
	seedPackage(t, db, types.ProviderAirhub, "pkg-scan-2")
	inactive := seedPackage(t, db, types.ProviderESIMCard, "pkg-scan-3")
	require.NoError(t, db.Model(inactive).Update("active", false).Error)

	t.Run("list packages filters inactive and by provider", func(t *testing.T) {
		all, err := f.mgr.ListPackages(ctx, "", "")
		require.NoError(t, err)
		require.Len(t, all, 2)

		esimcardOnly, err := f.mgr.ListPackages(ctx, "esimcard", "TR")
		require.NoError(t, err)
		require.Len(t, esimcardOnly, 1)
		require.Equal(t, types.ProviderESIMCard, esimcardOnly[0].Provider)
	})

	t.Run("scan orders paginates with filters", func(t *testing.T) {
		for _, pkgID := range []string{"pkg-scan-1", "pkg-scan-2"} {
			_, err := f.mgr.CreateOrder(ctx, &CreateOrderRequest{
				ICCID:     "8988303000012345678",
				PackageID: pkgID,
			})
			require.NoError(t, err)
		}

		page, err := f.mgr.ScanOrders(ctx, &ScanOrdersRequest{Size: 1})
		require.NoError(t, err)
		require.Equal(t, int64(2), page.Total)
		require.Len(t, page.Items, 1)

		filtered, err := f.mgr.ScanOrders(ctx, &ScanOrdersRequest{
			Filters: []*types.CommonFilter{{Field: "provider", Operator: types.CommonFilterOperatorEq, Values: []any{"airhub"}}},
			Size:    10,
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), filtered.Total)
		require.Equal(t, types.ProviderAirhub, filtered.Items[0].Provider)
	})
}

func TestRenewalCurrencyHandling(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	db := setupDB(t)
	ctx := context.Background()

	t.Run("order is priced in the requested currency", func(t *testing.T) {
		f := newFixture(t, db)
		registryClients := []provider.Client{f.clients[types.ProviderESIMCard]}
		registry, err := provider.NewRegistry(registryClients...)
		require.NoError(t, err)
		mgr := NewService(db, zap.NewNop().Sugar(), f.gateway, registry, f.matcher, &converterStub{factor: 0.92}, f.notifier)
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-fx-1")

		created, err := mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
			Currency:  "eur",
		})
		require.NoError(t, err)
		require.Equal(t, "EUR", created.Order.Currency)
		require.Equal(t, int64(919), created.Order.AmountCents) // 999 * 0.92 truncated
	})

	t.Run("conversion failure degrades to USD", func(t *testing.T) {
		f := newFixture(t, db)
		registry, err := provider.NewRegistry(f.clients[types.ProviderESIMCard])
		require.NoError(t, err)
		mgr := NewService(db, zap.NewNop().Sugar(), f.gateway, registry, f.matcher,
			&converterStub{err: fmt.Errorf("rates unavailable")}, f.notifier)
		pkg := seedPackage(t, db, types.ProviderESIMCard, "pkg-fx-2")

		created, err := mgr.CreateOrder(ctx, &CreateOrderRequest{
			ICCID:     "8988303000012345678",
			PackageID: pkg.PackageID,
			Currency:  "EUR",
		})
		require.NoError(t, err)
		require.Equal(t, "USD", created.Order.Currency)
		require.Equal(t, int64(999), created.Order.AmountCents)
	})
}
