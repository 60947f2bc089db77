package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"soilify/internal/models"
	"soilify/internal/util"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentReconciler applies a gateway outcome to the matching order.
type PaymentReconciler interface {
	RecordPayment(ctx context.Context, ref string, success bool) (*models.Order, error)
}

// PaymentConfig holds gateway URLs and secrets.
type PaymentConfig struct {
	Currency       string
	SuccessURL     string
	CancelURL      string
	CallbackSecret string
	ReferenceTTL   time.Duration
}

// PaymentService opens gateway checkouts and records their callbacks
type PaymentService struct {
	gateway    Gateway
	ledger     PaymentLedger
	events     EventPublisher
	reconciler PaymentReconciler
	cfg        PaymentConfig
	logger     *zap.Logger
}

// NewPaymentService creates a new payment service. events and reconciler may be nil;
// without events, callbacks are reconciled in process.
func NewPaymentService(gateway Gateway, ledger PaymentLedger, events EventPublisher, reconciler PaymentReconciler, cfg PaymentConfig) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = 24 * time.Hour
	}
	return &PaymentService{
		gateway:    gateway,
		ledger:     ledger,
		events:     events,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// CheckoutInput is the customer's request to pay online before placing an order.
type CheckoutInput struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CreateCheckout opens a gateway session. The returned reference is later passed
// to PlaceOrder as the payment reference.
func (ps *PaymentService) CreateCheckout(ctx context.Context, actor *models.Identity, in CheckoutInput) (*CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateCheckout")
	defer span.End()

	if !actor.Authenticated() {
		return nil, ErrAuthRequired
	}
	if !in.Amount.IsPositive() {
		return nil, validationError("amount must be positive")
	}

	ref := "PAY-" + ulid.Make().String()
	session, err := ps.gateway.CreateCheckout(ctx, CheckoutRequest{
		Reference:   ref,
		Amount:      in.Amount,
		Currency:    ps.cfg.Currency,
		Description: in.Description,
		Email:       actor.Email,
		SuccessURL:  withReference(ps.cfg.SuccessURL, ref),
		CancelURL:   withReference(ps.cfg.CancelURL, ref),
	})
	if err != nil {
		ps.logger.Error("Checkout session failed",
			zap.String("provider", ps.gateway.Name()),
			zap.String("payment_reference", ref),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	if ps.ledger != nil {
		rec := models.PaymentRecord{Reference: ref, UserID: actor.UserID, Amount: in.Amount}
		if err := ps.ledger.RecordCheckout(ctx, rec, ps.cfg.ReferenceTTL); err != nil {
			return nil, fmt.Errorf("failed to record checkout: %w", err)
		}
	}

	util.CheckoutSessionsTotal.WithLabelValues(ps.gateway.Name()).Inc()
	ps.logger.Info("Checkout session created",
		zap.String("provider", session.Provider),
		zap.String("payment_reference", ref),
		zap.String("user_id", actor.UserID))
	return session, nil
}

func withReference(rawURL, ref string) string {
	if rawURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "reference=" + ref
}

// PaymentCallback is the gateway's report of a checkout outcome.
type PaymentCallback struct {
	Reference string          `json:"reference"`
	Success   bool            `json:"success"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
}

// VerifySignature checks the hex HMAC-SHA256 of body against the callback secret.
// Without a configured secret every callback is rejected.
func (ps *PaymentService) VerifySignature(body []byte, signature string) bool {
	if ps.cfg.CallbackSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(ps.cfg.CallbackSecret))
	mac.Write(body)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// HandleCallback records a verified reference and announces the outcome
func (ps *PaymentService) HandleCallback(ctx context.Context, cb PaymentCallback) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback")
	defer span.End()

	cb.Reference = strings.TrimSpace(cb.Reference)
	if cb.Reference == "" {
		return validationError("payment reference is required")
	}

	if cb.Success && ps.ledger != nil {
		rec, err := ps.ledger.GetPayment(ctx, cb.Reference)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		switch {
		case rec == nil:
			util.PaymentCallbacksTotal.WithLabelValues("unknown").Inc()
			ps.logger.Warn("Callback for unknown payment reference ignored",
				zap.String("payment_reference", cb.Reference))
			return nil
		case cb.Amount.IsPositive() && cb.Amount.LessThan(rec.Amount):
			ps.logger.Warn("Callback amount below checkout amount",
				zap.String("payment_reference", cb.Reference),
				zap.String("expected", rec.Amount.StringFixed(2)),
				zap.String("received", cb.Amount.StringFixed(2)))
			cb.Success = false
			cb.Reason = "amount mismatch"
		default:
			if _, err := ps.ledger.MarkPaymentVerified(ctx, cb.Reference, ps.cfg.ReferenceTTL); err != nil {
				return fmt.Errorf("failed to record payment: %w", err)
			}
		}
	}

	result := "failed"
	eventType := models.EventTypePaymentFailed
	if cb.Success {
		result = "success"
		eventType = models.EventTypePaymentSuccess
	}
	util.PaymentCallbacksTotal.WithLabelValues(result).Inc()
	ps.logger.Info("Payment callback received",
		zap.String("payment_reference", cb.Reference),
		zap.String("result", result))

	if ps.events != nil {
		err := ps.events.PublishPaymentEvent(ctx, eventType, cb.Reference, cb.Amount, cb.Reason)
		if err == nil {
			return nil
		}
		ps.logger.Error("Failed to publish payment event, reconciling in process",
			zap.String("payment_reference", cb.Reference),
			zap.Error(err))
	}

	if ps.reconciler != nil {
		if _, err := ps.reconciler.RecordPayment(ctx, cb.Reference, cb.Success); err != nil {
			return fmt.Errorf("failed to reconcile payment: %w", err)
		}
	}
	return nil
}

// Verified reports whether a success callback was recorded for ref
func (ps *PaymentService) Verified(ctx context.Context, ref string) (bool, error) {
	if ps.ledger == nil {
		return false, nil
	}
	rec, err := ps.ledger.GetPayment(ctx, ref)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.Verified, nil
}
