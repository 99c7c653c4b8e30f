package renewal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsetel/simhub/internal/app/service/bundlematch"
	"github.com/pulsetel/simhub/internal/app/service/currency"
	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/internal/platform/payment"
	"github.com/pulsetel/simhub/internal/platform/provider"
	"github.com/pulsetel/simhub/pkg/logctx"
	"github.com/pulsetel/simhub/pkg/metrics"
	"github.com/pulsetel/simhub/pkg/tool"
	"github.com/pulsetel/simhub/pkg/types"
)

type Service struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	gateway   payment.Gateway
	registry  *provider.Registry
	matcher   bundlematch.Matcher
	converter currency.Converter
	notifier  Notifier
}

func NewService(
	db *gorm.DB,
	log *zap.SugaredLogger,
	gateway payment.Gateway,
	registry *provider.Registry,
	matcher bundlematch.Matcher,
	converter currency.Converter,
	notifier Notifier,
) Manager {
	return &Service{
		db:        db,
		log:       log,
		gateway:   gateway,
		registry:  registry,
		matcher:   matcher,
		converter: converter,
		notifier:  notifier,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResult, error) {
	log := logctx.FromCtx(ctx, s.log)
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	iccid := tool.NormalizeICCID(req.ICCID)
	if iccid == "" {
		return nil, fmt.Errorf("iccid must not be empty")
	}

	pkg, err := s.resolvePackage(ctx, req.Provider, req.PackageID)
	if err != nil {
		return nil, err
	}

	// Prices live in USD cents; a failed conversion degrades to charging
	// USD rather than blocking the order.
	currencyCode := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currencyCode == "" {
		currencyCode = "USD"
	}
	amount := pkg.PriceCentsUSD
	if currencyCode != "USD" {
		converted, err := s.converter.ConvertCents(ctx, pkg.PriceCentsUSD, "USD", currencyCode)
		if err != nil {
			log.Warnf("currency conversion to %s failed, charging USD: %v", currencyCode, err)
			currencyCode = "USD"
		} else {
			amount = converted
		}
	}

	order := &models.RenewalOrder{
		ID:          tool.GenerateUUIDV7(),
		OrderID:     tool.GenerateOrderID(),
		ICCID:       iccid,
		Provider:    pkg.Provider,
		PlanName:    pkg.Name,
		AmountCents: amount,
		Currency:    currencyCode,
		Status:      types.OrderStatusPending,
		ProviderContext: datatypes.NewJSONType(map[string]string{
			ctxPlanName:             pkg.Name,
			provider.CtxPackageID:   pkg.PackageID,
			provider.CtxRenewalDays: strconv.Itoa(pkg.ValidityDays),
			ctxCountryCode:          pkg.CountryCode,
		}),
	}
	if e := strings.TrimSpace(req.CustomerEmail); e != "" {
		order.CustomerEmail = &e
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("failed to create renewal order: %w", err)
	}

	checkout, err := s.initiatePayment(ctx, order)
	if err != nil {
		s.markOrderFailed(ctx, order, stepCheckout, err)
		return nil, fmt.Errorf("failed to initiate payment: %w", err)
	}

	log.Infow("renewal order created",
		"order_id", order.OrderID, "iccid", order.ICCID, "provider", order.Provider,
		"plan", order.PlanName, "amount_cents", order.AmountCents, "currency", order.Currency)
	return &CreateOrderResult{Order: order, SessionID: checkout.Handle, CheckoutURL: checkout.RedirectURL}, nil
}

// resolvePackage finds an active catalog entry by the provider-side package
// id, or by the catalog row id when the caller passes a UUID.
func (s *Service) resolvePackage(ctx context.Context, providerFilter, packageID string) (*models.RenewalPackage, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, fmt.Errorf("%w: package id required", ErrPackageNotFound)
	}
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if p := types.Provider(strings.ToLower(strings.TrimSpace(providerFilter))); providerFilter != "" {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unknown provider %q", ErrPackageNotFound, providerFilter)
		}
		q = q.Where("provider = ?", p)
	}
	if _, err := uuid.Parse(packageID); err == nil {
		q = q.Where("id = ?", packageID)
	} else {
		q = q.Where("package_id = ?", packageID)
	}

	var pkg models.RenewalPackage
	if err := q.First(&pkg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, packageID)
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	return &pkg, nil
}

// initiatePayment opens the hosted checkout and records the pending payment
// transaction that ties the gateway session to the order.
func (s *Service) initiatePayment(ctx context.Context, order *models.RenewalOrder) (*payment.Checkout, error) {
	req := payment.CreateCheckoutRequest{
		OrderID:     order.OrderID,
		ICCID:       order.ICCID,
		Provider:    string(order.Provider),
		PlanName:    order.PlanName,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	}
	if order.CustomerEmail != nil {
		req.CustomerEmail = *order.CustomerEmail
	}

	checkout, err := s.gateway.CreateCheckout(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	txn := &models.PaymentTransaction{
		ID:                 tool.GenerateUUIDV7(),
		RenewalOrderID:     order.ID,
		ExternalPaymentRef: checkout.Handle,
		AmountCents:        order.AmountCents,
		Currency:           order.Currency,
		Status:             types.PaymentStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment transaction: %w", err)
	}
	return checkout, nil
}

func (s *Service) ConfirmAndFulfill(ctx context.Context, sessionID string) (*models.RenewalOrder, error) {
	order, err := s.confirmPayment(ctx, sessionID)
	if err != nil {
		return order, err
	}
	// Fulfillment runs only for an order this confirmation moved to PAID.
	// COMPLETED is a no-op replay; PROVIDER_FAILED is retried by operators
	// only, never by webhook redelivery.
	if order.Status != types.OrderStatusPaid {
		return order, nil
	}
	if err := s.fulfill(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// confirmPayment verifies the checkout session with the gateway and commits
// the payment outcome. The gateway's answer is authoritative; redirect
// query parameters are never trusted.
func (s *Service) confirmPayment(ctx context.Context, sessionID string) (*models.RenewalOrder, error) {
	log := logctx.FromCtx(ctx, s.log)
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrOrderNotFound)
	}

	var txn models.PaymentTransaction
	if err := s.db.WithContext(ctx).Where("external_payment_ref = ?", sessionID).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no payment for session %s", ErrOrderNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to load payment transaction: %w", err)
	}
	var order models.RenewalOrder
	if err := s.db.WithContext(ctx).Where("id = ?", txn.RenewalOrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order for session %s", ErrOrderNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	switch order.Status {
	case types.OrderStatusPending:
		// fall through to gateway verification
	case types.OrderStatusPaid, types.OrderStatusCompleted, types.OrderStatusProviderFailed:
		return &order, nil
	default: // FAILED, CANCELLED
		return &order, ErrPaymentNotConfirmed
	}

	status, err := s.gateway.RetrieveCheckout(ctx, sessionID)
	if err != nil {
		return &order, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}

	if !status.Paid {
		log.Warnf("checkout session %s not paid (status %s), failing order %s", sessionID, status.PaymentStatus, order.OrderID)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			fresh, err := lockOrder(tx, order.ID)
			if err != nil {
				return err
			}
			if fresh.Status != types.OrderStatusPending {
				order = *fresh
				return nil
			}
			if err := transition(tx, fresh, types.OrderStatusFailed, map[string]any{
				"provider_context": datatypes.NewJSONType(fresh.MergedCtx(map[string]string{
					ctxFailureDetail: fmt.Sprintf("payment not confirmed: %s", status.PaymentStatus),
					ctxFailedStep:    stepConfirm,
				})),
			}); err != nil {
				return err
			}
			if err := tx.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).
				Updates(map[string]any{"status": types.PaymentStatusFailed}).Error; err != nil {
				return fmt.Errorf("failed to update payment transaction: %w", err)
			}
			order = *fresh
			return nil
		})
		if err != nil {
			return &order, err
		}
		return &order, ErrPaymentNotConfirmed
	}

	// Paid: order and transaction move together in one commit.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if fresh.Status != types.OrderStatusPending {
			// A concurrent confirmation (webhook vs redirect) won the race.
			order = *fresh
			return nil
		}
		if err := transition(tx, fresh, types.OrderStatusPaid, nil); err != nil {
			return err
		}
		updates := map[string]any{"status": types.PaymentStatusSucceeded}
		if status.ChargeRef != "" {
			updates["charge_ref"] = status.ChargeRef
		}
		if len(status.Raw) > 0 {
			updates["raw_response"] = datatypes.JSON(status.Raw)
		}
		if err := tx.Model(&models.PaymentTransaction{}).Where("id = ?", txn.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update payment transaction: %w", err)
		}
		order = *fresh
		return nil
	})
	if err != nil {
		return &order, err
	}
	log.Infow("renewal order paid", "order_id", order.OrderID, "session_id", sessionID)
	return &order, nil
}

// fulfill executes the provider-side renewal for a PAID or PROVIDER_FAILED
// order and commits the outcome in its own DB transaction. The passed order
// is refreshed in place.
func (s *Service) fulfill(ctx context.Context, order *models.RenewalOrder) error {
	log := logctx.FromCtx(ctx, s.log)
	if !order.Status.Fulfillable() {
		return fmt.Errorf("%w: cannot fulfill from %s", ErrInvalidTransition, order.Status)
	}

	client, ok := s.registry.Get(order.Provider)
	if !ok {
		return s.failFulfillment(ctx, order, stepResolve, fmt.Errorf("no client registered for provider %s", order.Provider))
	}
	fctx, err := s.buildFulfillmentContext(ctx, client, order)
	if err != nil {
		return s.failFulfillment(ctx, order, stepResolve, err)
	}

	start := time.Now()
	result, err := client.FulfillRenewal(ctx, fctx)
	metrics.ObserveBusinessProcess("renewal_fulfill", string(order.Provider), metrics.MillisecondsSince(start))
	if err != nil {
		return s.failFulfillment(ctx, order, stepFulfill, err)
	}

	bag := map[string]string{}
	for k, v := range fctx {
		bag[k] = v
	}
	if result.Message != "" {
		bag[ctxProviderMessage] = result.Message
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if fresh.Status == types.OrderStatusCompleted {
			*order = *fresh
			return nil
		}
		now := time.Now()
		updates := map[string]any{
			"completed_at":     &now,
			"provider_context": datatypes.NewJSONType(fresh.MergedCtx(bag)),
		}
		if result.OrderRef != "" {
			updates["provider_order_ref"] = result.OrderRef
		}
		if err := transition(tx, fresh, types.OrderStatusCompleted, updates); err != nil {
			return err
		}
		fresh.CompletedAt = &now
		if result.OrderRef != "" {
			ref := result.OrderRef
			fresh.ProviderOrderRef = &ref
		}
		*order = *fresh
		return nil
	})
	if err != nil {
		// The provider renewal went through but the outcome did not commit.
		// The order stays fulfillable, so a blind retry would renew twice.
		log.Errorw("provider renewal succeeded but completion did not commit, do not blind-retry",
			"order_id", order.OrderID, "provider_ref", result.OrderRef, "err", err)
		return fmt.Errorf("failed to record fulfillment outcome: %w", err)
	}

	log.Infow("renewal order fulfilled",
		"order_id", order.OrderID, "provider", order.Provider, "provider_ref", result.OrderRef)
	s.notifier.NotifyCompleted(ctx, order)
	return nil
}

// failFulfillment records a provider failure and returns the wrapped
// *FulfillmentError. The payment stays captured.
func (s *Service) failFulfillment(ctx context.Context, order *models.RenewalOrder, step string, cause error) error {
	log := logctx.FromCtx(ctx, s.log)
	log.Errorw("renewal fulfillment failed, payment stays captured",
		"order_id", order.OrderID, "provider", order.Provider, "step", step, "err", cause)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if !fresh.Status.CanTransitionTo(types.OrderStatusProviderFailed) {
			// A concurrent retry already completed the order.
			*order = *fresh
			return nil
		}
		if err := transition(tx, fresh, types.OrderStatusProviderFailed, map[string]any{
			"provider_context": datatypes.NewJSONType(fresh.MergedCtx(map[string]string{
				ctxFailureDetail:   cause.Error(),
				ctxFailedStep:      step,
				ctxPaymentCaptured: "true",
			})),
		}); err != nil {
			return err
		}
		*order = *fresh
		return nil
	})
	if err != nil {
		log.Errorf("failed to record fulfillment failure for order %s: %v", order.OrderID, err)
	}
	return &FulfillmentError{OrderID: order.OrderID, Step: step, Err: cause}
}

// buildFulfillmentContext assembles the per-provider parameter bag. Missing
// order references and bundle ids are resolved here; anything still missing
// is rejected by the client's key validation before any renewal call.
func (s *Service) buildFulfillmentContext(ctx context.Context, client provider.Client, order *models.RenewalOrder) (map[string]string, error) {
	switch order.Provider {
	case types.ProviderAirhub:
		ref := order.CtxValue(provider.CtxOrderReference)
		if ref == "" {
			rec, err := client.LookupByICCID(ctx, order.ICCID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve provider order reference: %w", err)
			}
			ref = rec.ExternalID
		}
		return map[string]string{
			provider.CtxOrderReference: ref,
			provider.CtxRenewalDays:    order.CtxValue(provider.CtxRenewalDays),
			provider.CtxChargedAmount:  fmt.Sprintf("%.2f", float64(order.AmountCents)/100),
		}, nil
	case types.ProviderESIMCard:
		return map[string]string{
			provider.CtxDeviceIdentifier: order.ICCID,
			provider.CtxPackageID:        order.CtxValue(provider.CtxPackageID),
		}, nil
	case types.ProviderTravelRoam:
		bundleID := order.CtxValue(provider.CtxPackageID)
		if bundleID == "" {
			matched, err := s.matcher.FindBundle(ctx, order.CtxValue(ctxPlanName), order.CtxValue(ctxCountryCode))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve catalogue bundle: %w", err)
			}
			bundleID = matched
		}
		return map[string]string{
			provider.CtxBundleID: bundleID,
			provider.CtxICCID:    order.ICCID,
		}, nil
	}
	return nil, fmt.Errorf("unsupported provider: %s", order.Provider)
}

func (s *Service) RetryFulfillment(ctx context.Context, orderID string) (*models.RenewalOrder, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Fulfillable() {
		return order, fmt.Errorf("%w: retry requires PAID or PROVIDER_FAILED, got %s", ErrInvalidTransition, order.Status)
	}
	logctx.FromCtx(ctx, s.log).Infow("operator retry of renewal fulfillment",
		"order_id", order.OrderID, "status", order.Status)
	if err := s.fulfill(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*models.RenewalOrder, error) {
	var order models.RenewalOrder
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return &order, nil
}

func (s *Service) ListPackages(ctx context.Context, providerFilter, countryCode string) ([]*models.RenewalPackage, error) {
	q := s.db.WithContext(ctx).Where("active = ?", true)
	if providerFilter != "" {
		q = q.Where("provider = ?", strings.ToLower(strings.TrimSpace(providerFilter)))
	}
	if countryCode != "" {
		q = q.Where("country_code = ?", strings.ToUpper(strings.TrimSpace(countryCode)))
	}
	var pkgs []*models.RenewalPackage
	if err := q.Order("provider, validity_days").Find(&pkgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return pkgs, nil
}

// filtersAnd combines multiple CommonFilter into a single clause.Expression
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanOrders implements paginated admin listing with filters
func (s *Service) ScanOrders(ctx context.Context, req *ScanOrdersRequest) (*ScanOrdersResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.RenewalOrder{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	var rows []*models.RenewalOrder

	q := tx.Limit(req.Size)

	if req.From > 0 {
		q = q.Offset(req.From)
	}

	if req.SortBy != "" {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	} else {
		q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: "created_at"}, Desc: true}}})
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return &ScanOrdersResponse{Items: rows, Total: total}, nil
}

// markOrderFailed moves a PENDING order to FAILED outside the payment path,
// e.g. when the checkout session itself could not be created.
func (s *Service) markOrderFailed(ctx context.Context, order *models.RenewalOrder, step string, cause error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := lockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if !fresh.Status.CanTransitionTo(types.OrderStatusFailed) {
			*order = *fresh
			return nil
		}
		if err := transition(tx, fresh, types.OrderStatusFailed, map[string]any{
			"provider_context": datatypes.NewJSONType(fresh.MergedCtx(map[string]string{
				ctxFailureDetail: cause.Error(),
				ctxFailedStep:    step,
			})),
		}); err != nil {
			return err
		}
		*order = *fresh
		return nil
	})
	if err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to mark order %s failed: %v", order.OrderID, err)
	}
}

// lockOrder loads the order row FOR UPDATE inside tx, serializing state
// transitions per order.
func lockOrder(tx *gorm.DB, id string) (*models.RenewalOrder, error) {
	var o models.RenewalOrder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &o, nil
}

// transition validates the status change against the order state machine and
// applies it, together with extra column updates, on the locked row.
func transition(tx *gorm.DB, o *models.RenewalOrder, next types.OrderStatus, extra map[string]any) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	updates := map[string]any{"status": next}
	for k, v := range extra {
		updates[k] = v
	}
	if err := tx.Model(&models.RenewalOrder{}).Where("id = ?", o.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	o.Status = next
	if pc, ok := extra["provider_context"].(datatypes.JSONType[map[string]string]); ok {
		o.ProviderContext = pc
	}
	return nil
}
