package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"soilify/internal/models"
	"soilify/internal/service"
	"soilify/internal/util"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultLocation is used when the customer profile has no address.
const DefaultLocation = "Kashmir"

// Orders is the slice of the order workflow the assistant drives.
type Orders interface {
	PlaceOrder(ctx context.Context, actor *models.Identity, req *service.PlaceOrderRequest) (*models.Order, error)
	AdvanceStatus(ctx context.Context, actor *models.Identity, orderID string, action service.Action, payload service.StatusPayload) (*models.Order, error)
	ListOrders(ctx context.Context, actor *models.Identity, filter models.OrderFilter) ([]*models.Order, error)
}

type Catalog interface {
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	Stock(ctx context.Context, id string) (int, error)
}

// Reply is what the assistant sends back for one event.
type Reply struct {
	State    State         `json:"state"`
	Messages []Message     `json:"messages"`
	Order    *models.Order `json:"order,omitempty"`
}

type Service struct {
	orders   Orders
	catalog  Catalog
	sessions SessionStore
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(orders Orders, catalog Catalog, sessions SessionStore) *Service {
	return &Service{
		orders:   orders,
		catalog:  catalog,
		sessions: sessions,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Handle runs one event through the state machine for the actor's session
// and executes any resulting command. Domain failures become bot messages.
func (s *Service) Handle(ctx context.Context, actor *models.Identity, ev Event) (*Reply, error) {
	ctx, span := util.StartSpan(ctx, "ChatService.Handle", attribute.String("chat.event", string(ev.Kind)))
	defer span.End()

	if !actor.Authenticated() {
		return nil, service.ErrAuthRequired
	}

	sess, err := s.sessions.Load(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = &Session{ID: actor.UserID, State: StateIdle}
	}

	facts, err := s.gather(ctx, actor, *sess, ev)
	if err != nil {
		return nil, err
	}

	out := Step(*sess, ev, facts)
	if out.Session.State == StateConfirmOrder && out.Session.DraftID == "" {
		out.Session.DraftID = ulid.Make().String()
	}

	reply := &Reply{Messages: out.Messages}
	if out.Command != nil {
		msgs, order, err := s.execute(ctx, actor, *out.Command)
		if err != nil {
			return nil, err
		}
		reply.Messages = append(reply.Messages, msgs...)
		reply.Order = order
	}

	out.Session.UpdatedAt = s.now()
	if err := s.sessions.Save(ctx, out.Session); err != nil {
		return nil, err
	}
	reply.State = out.Session.State
	util.ChatMessagesTotal.WithLabelValues(string(reply.State)).Inc()
	return reply, nil
}

// Reset discards the actor's conversation.
func (s *Service) Reset(ctx context.Context, actor *models.Identity) error {
	if !actor.Authenticated() {
		return service.ErrAuthRequired
	}
	return s.sessions.Delete(ctx, actor.UserID)
}

func (s *Service) gather(ctx context.Context, actor *models.Identity, sess Session, ev Event) (Facts, error) {
	facts := Facts{NoPhone: strings.TrimSpace(actor.Phone) == ""}
	text := normalize(ev.Text)

	switch sess.State {
	case StateIdle, "", StateBrowsing:
		if sess.State != StateBrowsing || ev.Kind != EventSelectProduct {
			products, err := s.catalog.ListProducts(ctx, models.ProductFilter{})
			if err != nil {
				return facts, err
			}
			for _, p := range products {
				if p.InStock {
					facts.Featured = append(facts.Featured, p)
				}
			}
		}
	case StateQuantityInput:
		stock, err := s.catalog.Stock(ctx, sess.ProductID)
		switch {
		case errors.Is(err, service.ErrNotFound):
		case err != nil:
			return facts, err
		default:
			facts.Selected = &models.Product{
				ID:         sess.ProductID,
				Name:       sess.ProductName,
				Price:      sess.UnitPrice,
				StockCount: stock,
			}
		}
	}

	if sess.State == StateIdle || sess.State == "" || sess.State == StateManageOrders {
		if ev.Kind == EventText && (sess.State == StateManageOrders || containsAny(text, "order", "track", "cancel")) {
			orders, err := s.orders.ListOrders(ctx, actor, models.OrderFilter{})
			if err != nil {
				return facts, err
			}
			facts.Orders = orders
		}
	}

	if ev.ProductID != "" && ev.Kind == EventSelectProduct && sess.State != StateQuantityInput {
		p, err := s.catalog.GetProduct(ctx, ev.ProductID)
		switch {
		case errors.Is(err, service.ErrNotFound):
		case err != nil:
			return facts, err
		default:
			facts.Selected = p
		}
	}
	return facts, nil
}

func (s *Service) execute(ctx context.Context, actor *models.Identity, cmd Command) ([]Message, *models.Order, error) {
	switch cmd.Kind {
	case CommandPlaceOrder:
		order, err := s.orders.PlaceOrder(ctx, actor, s.orderRequest(actor, cmd))
		if order == nil {
			if msg, ok := userFacing(err); ok {
				return []Message{{Text: "Sorry, we could not place your order: " + msg}}, nil, nil
			}
			return nil, nil, err
		}
		if err != nil {
			s.logger.Warn("Chat order placed with warnings", zap.String("order_id", order.ID), zap.Error(err))
		}
		return []Message{{Text: fmt.Sprintf("Order %s placed! Total Rs %s, pay cash on delivery. Type \"track\" to follow it.",
			order.ID, order.TotalPrice.StringFixed(2))}}, order, nil

	case CommandCancelOrder:
		order, err := s.orders.AdvanceStatus(ctx, actor, cmd.OrderID, service.ActionCancel, service.StatusPayload{Reason: "Cancelled via chat"})
		if err != nil {
			if msg, ok := userFacing(err); ok {
				return []Message{{Text: "Sorry, that order could not be cancelled: " + msg}}, nil, nil
			}
			return nil, nil, err
		}
		return []Message{{Text: fmt.Sprintf("Order %s has been cancelled.", order.ID)}}, order, nil
	}
	return nil, nil, fmt.Errorf("unknown chat command %q", cmd.Kind)
}

func (s *Service) orderRequest(actor *models.Identity, cmd Command) *service.PlaceOrderRequest {
	name := strings.TrimSpace(actor.Name)
	if name == "" {
		name = "WhatsApp Customer"
	}
	location := strings.TrimSpace(actor.Address)
	if location == "" {
		location = DefaultLocation
	}
	req := &service.PlaceOrderRequest{
		Items:         []models.CartItem{{ProductID: cmd.ProductID, Quantity: cmd.Quantity}},
		Customer:      models.Customer{Name: name, Phone: actor.Phone, Email: actor.Email},
		Address:       models.Address{Location: location},
		PaymentMethod: models.PaymentMethodCOD,
		Channel:       models.ChannelWhatsApp,
	}
	if cmd.DraftID != "" {
		req.IdempotencyKey = "chat-" + actor.UserID + "-" + cmd.DraftID
	}
	return req
}

func userFacing(err error) (string, bool) {
	for _, target := range []error{
		service.ErrValidation, service.ErrNotFound, service.ErrConflict,
		service.ErrInvalidTransition, service.ErrForbidden,
	} {
		if errors.Is(err, target) {
			return err.Error(), true
		}
	}
	return "", false
}
