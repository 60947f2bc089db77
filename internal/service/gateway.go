package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// CheckoutRequest describes a payment the customer is about to make.
type CheckoutRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Email       string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is where the customer is sent to pay.
type CheckoutSession struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url"`
}

// Gateway opens checkout sessions with an external payment provider.
type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// LinkGateway sends customers to a static hosted payment link.
type LinkGateway struct {
	baseURL string
}

func NewLinkGateway(baseURL string) (*LinkGateway, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("payment link: invalid url %q", baseURL)
	}
	return &LinkGateway{baseURL: u.String()}, nil
}

func (g *LinkGateway) Name() string { return "link" }

func (g *LinkGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("amount", req.Amount.StringFixed(2))
	q.Set("currency", req.Currency)
	q.Set("reference", req.Reference)
	u.RawQuery = q.Encode()
	return &CheckoutSession{Provider: g.Name(), Reference: req.Reference, URL: u.String()}, nil
}

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway creates Stripe Checkout sessions.
type StripeGateway struct {
	sessions stripeSessionAPI
}

func NewStripeGateway(apiKey string) (*StripeGateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return &StripeGateway{sessions: sc.CheckoutSessions}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	name := req.Description
	if name == "" {
		name = "Soilify order"
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(minorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("reference", req.Reference)

	session, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{
		Provider:  g.Name(),
		Reference: req.Reference,
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

// minorUnits converts an amount to the currency's smallest unit (paise, cents).
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
