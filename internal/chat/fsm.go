package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"soilify/internal/models"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateIdle          State = "IDLE"
	StateBrowsing      State = "BROWSING"
	StateQuantityInput State = "QUANTITY_INPUT"
	StateConfirmOrder  State = "CONFIRM_ORDER"
	StateManageOrders  State = "MANAGE_ORDERS"
)

type EventKind string

const (
	EventText          EventKind = "text"
	EventSelectProduct EventKind = "select_product"
	EventCancelOrder   EventKind = "cancel_order"
)

// Event is one user input: typed text or a tapped button.
type Event struct {
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	ProductID string    `json:"productId,omitempty"`
	OrderID   string    `json:"orderId,omitempty"`
}

// Session is the persisted conversation state for one customer.
type Session struct {
	ID          string          `json:"id"`
	State       State           `json:"state"`
	ProductID   string          `json:"productId,omitempty"`
	ProductName string          `json:"productName,omitempty"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity,omitempty"`
	DraftID     string          `json:"draftId,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (s Session) reset() Session {
	return Session{ID: s.ID, State: StateIdle}
}

// Facts are read-only lookups the caller supplies for a step.
type Facts struct {
	Featured []models.Product
	Orders   []*models.Order
	Selected *models.Product
	// NoPhone is set when the customer's profile has no phone number to deliver to.
	NoPhone bool
}

const noPhoneText = "Please add a phone number to your profile before ordering, so we can arrange delivery."

type Option struct {
	Label string `json:"label"`
	Event Event  `json:"event"`
}

type Message struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

type CommandKind string

const (
	CommandPlaceOrder  CommandKind = "place_order"
	CommandCancelOrder CommandKind = "cancel_order"
)

// Command is a side effect the caller must execute after a step.
type Command struct {
	Kind      CommandKind
	ProductID string
	Quantity  int
	OrderID   string
	DraftID   string
}

type Outcome struct {
	Session  Session
	Messages []Message
	Command  *Command
}

// FeaturedLimit is how many products the assistant offers when browsing.
const FeaturedLimit = 5

type stepFunc func(Session, Event, Facts) Outcome

var transitions = map[State]stepFunc{
	StateIdle:          stepIdle,
	StateBrowsing:      stepBrowsing,
	StateQuantityInput: stepQuantity,
	StateConfirmOrder:  stepConfirm,
	StateManageOrders:  stepManage,
}

// Step advances the conversation by one event. It performs no I/O.
func Step(s Session, e Event, facts Facts) Outcome {
	if s.State == "" {
		s.State = StateIdle
	}
	if e.Kind == EventText && isMenu(e.Text) {
		return greet(s.reset())
	}
	step, ok := transitions[s.State]
	if !ok {
		return greet(s.reset())
	}
	return step(s, e, facts)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func isMenu(text string) bool {
	switch normalize(text) {
	case "menu", "hi", "hello", "start", "home":
		return true
	}
	return false
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func greet(s Session) Outcome {
	return Outcome{Session: s, Messages: []Message{{
		Text: "Welcome to Soilify! How can we help you today?",
		Options: []Option{
			{Label: "Shop products", Event: Event{Kind: EventText, Text: "shop"}},
			{Label: "Track my orders", Event: Event{Kind: EventText, Text: "track"}},
			{Label: "Cancel an order", Event: Event{Kind: EventText, Text: "cancel"}},
		},
	}}}
}

func stepIdle(s Session, e Event, f Facts) Outcome {
	text := normalize(e.Text)
	switch {
	case e.Kind != EventText:
		return greet(s)
	case containsAny(text, "buy", "shop"):
		return browse(s, f)
	case containsAny(text, "cancel"):
		return manage(s, f, true)
	case containsAny(text, "order", "track"):
		return manage(s, f, false)
	default:
		out := greet(s)
		out.Messages[0].Text = "Sorry, I did not get that. Pick one of the options below."
		return out
	}
}

func browse(s Session, f Facts) Outcome {
	s.State = StateBrowsing
	featured := f.Featured
	if len(featured) > FeaturedLimit {
		featured = featured[:FeaturedLimit]
	}
	if len(featured) == 0 {
		return Outcome{Session: s.reset(), Messages: []Message{{Text: "No products are available right now. Please check back soon."}}}
	}
	msg := Message{Text: "Here are our featured products:"}
	for _, p := range featured {
		msg.Options = append(msg.Options, Option{
			Label: fmt.Sprintf("%s - Rs %s", p.Name, p.Price.StringFixed(2)),
			Event: Event{Kind: EventSelectProduct, ProductID: p.ID},
		})
	}
	return Outcome{Session: s, Messages: []Message{msg}}
}

func manage(s Session, f Facts, cancellable bool) Outcome {
	s.State = StateManageOrders
	if len(f.Orders) == 0 {
		return Outcome{Session: s.reset(), Messages: []Message{{Text: "You have no orders yet. Type \"shop\" to start."}}}
	}
	msg := Message{Text: "Your orders:"}
	var lines []string
	for _, o := range f.Orders {
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", o.ID, o.ProductDetails, o.Status))
		if o.Status == models.OrderStatusPending {
			msg.Options = append(msg.Options, Option{
				Label: "Cancel " + o.ID,
				Event: Event{Kind: EventCancelOrder, OrderID: o.ID},
			})
		}
	}
	msg.Text += "\n" + strings.Join(lines, "\n")
	if cancellable && len(msg.Options) == 0 {
		msg.Text += "\nNone of your orders can be cancelled any more."
	}
	return Outcome{Session: s, Messages: []Message{msg}}
}

func stepBrowsing(s Session, e Event, f Facts) Outcome {
	if e.Kind != EventSelectProduct {
		return browse(s, f)
	}
	p := f.Selected
	if p == nil || p.ID != e.ProductID {
		return Outcome{Session: s, Messages: []Message{{Text: "That product is no longer available."}}}
	}
	if !p.InStock {
		return Outcome{Session: s, Messages: []Message{{Text: p.Name + " is out of stock. Please pick another product."}}}
	}
	if f.NoPhone {
		return Outcome{Session: s, Messages: []Message{{Text: noPhoneText}}}
	}
	s.State = StateQuantityInput
	s.ProductID = p.ID
	s.ProductName = p.Name
	s.UnitPrice = p.Price
	return Outcome{Session: s, Messages: []Message{{
		Text: fmt.Sprintf("How many %s would you like? (%d %s available)", p.Name, p.StockCount, unitOr(p.Unit)),
	}}}
}

func unitOr(unit string) string {
	if unit == "" {
		return "units"
	}
	return unit
}

func stepQuantity(s Session, e Event, f Facts) Outcome {
	qty, err := strconv.Atoi(strings.TrimSpace(e.Text))
	if e.Kind != EventText || err != nil || qty <= 0 {
		return Outcome{Session: s, Messages: []Message{{Text: "Please enter a quantity as a number, for example 2."}}}
	}
	if f.Selected != nil && qty > f.Selected.StockCount {
		return Outcome{Session: s, Messages: []Message{{
			Text: fmt.Sprintf("Only %d left in stock. Please enter a smaller quantity.", f.Selected.StockCount),
		}}}
	}
	if f.NoPhone {
		return Outcome{Session: s, Messages: []Message{{Text: noPhoneText}}}
	}
	s.State = StateConfirmOrder
	s.Quantity = qty
	total := s.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
	return Outcome{Session: s, Messages: []Message{{
		Text: fmt.Sprintf("%s (x%d) for Rs %s plus delivery, paid cash on delivery. Place the order?", s.ProductName, qty, total.StringFixed(2)),
		Options: []Option{
			{Label: "Yes, place order", Event: Event{Kind: EventText, Text: "yes"}},
			{Label: "No", Event: Event{Kind: EventText, Text: "no"}},
		},
	}}}
}

func stepConfirm(s Session, e Event, _ Facts) Outcome {
	text := normalize(e.Text)
	switch {
	case e.Kind == EventText && containsAny(text, "yes", "place", "confirm"):
		cmd := &Command{Kind: CommandPlaceOrder, ProductID: s.ProductID, Quantity: s.Quantity, DraftID: s.DraftID}
		return Outcome{Session: s.reset(), Command: cmd}
	case e.Kind == EventText && containsAny(text, "no", "cancel"):
		return Outcome{Session: s.reset(), Messages: []Message{{Text: "Okay, the order was not placed. Type \"menu\" to start again."}}}
	default:
		return Outcome{Session: s, Messages: []Message{{Text: "Please reply \"yes\" to place the order or \"no\" to discard it."}}}
	}
}

func stepManage(s Session, e Event, f Facts) Outcome {
	if e.Kind == EventCancelOrder && e.OrderID != "" {
		return Outcome{Session: s.reset(), Command: &Command{Kind: CommandCancelOrder, OrderID: e.OrderID}}
	}
	return manage(s, f, false)
}
