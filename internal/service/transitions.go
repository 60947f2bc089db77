package service

import (
	"strings"
	"time"

	"soilify/internal/models"
)

// Action names a status operation on an order.
type Action string

const (
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionShip          Action = "ship"
	ActionDeliver       Action = "deliver"
	ActionCancel        Action = "cancel"
	ActionAdminCancel   Action = "admin_cancel"
	ActionReturnRequest Action = "return_request"
	ActionReturnApprove Action = "return_approve"
	ActionRefundRequest Action = "refund_request"
	ActionRefund        Action = "refund"
	ActionRestore       Action = "restore"
	ActionRate          Action = "rate"
)

// StatusPayload carries the inputs some actions require.
type StatusPayload struct {
	Reason     string     `json:"reason,omitempty"`
	TrackingID string     `json:"trackingId,omitempty"`
	Date       *time.Time `json:"date,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
	Review     string     `json:"review,omitempty"`
}

type actorScope int

const (
	scopeAdmin actorScope = iota
	scopeOwner
	scopeAdminOrOwner
)

type transitionRule struct {
	from     []string
	scope    actorScope
	validate func(StatusPayload) error
	guard    func(*models.Order) bool
	apply    func(o *models.Order, p StatusPayload, now time.Time)
}

func (r transitionRule) allowedFrom(status string) bool {
	for _, s := range r.from {
		if s == status {
			return true
		}
	}
	return false
}

// actionOrder fixes the iteration order of AllowedActions.
var actionOrder = []Action{
	ActionApprove, ActionReject, ActionShip, ActionDeliver, ActionCancel, ActionAdminCancel,
	ActionReturnRequest, ActionReturnApprove, ActionRefundRequest, ActionRefund, ActionRestore,
	ActionRate,
}

var transitionRules = map[Action]transitionRule{
	ActionApprove: {
		from:  []string{models.OrderStatusPending},
		scope: scopeAdmin,
		apply: func(o *models.Order, _ StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusApproved
		},
	},
	ActionReject: {
		from:     []string{models.OrderStatusPending},
		scope:    scopeAdmin,
		validate: requireReason,
		apply: func(o *models.Order, p StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusRejected
			o.RejectionReason = strings.TrimSpace(p.Reason)
		},
	},
	ActionShip: {
		from:  []string{models.OrderStatusApproved},
		scope: scopeAdmin,
		validate: func(p StatusPayload) error {
			if strings.TrimSpace(p.TrackingID) == "" {
				return validationError("tracking id is required")
			}
			return nil
		},
		apply: func(o *models.Order, p StatusPayload, now time.Time) {
			o.Status = models.OrderStatusShipped
			o.TrackingID = strings.TrimSpace(p.TrackingID)
			o.ShippedAt = dateOr(p.Date, now)
		},
	},
	ActionDeliver: {
		from:  []string{models.OrderStatusShipped},
		scope: scopeAdminOrOwner,
		apply: func(o *models.Order, p StatusPayload, now time.Time) {
			o.Status = models.OrderStatusDelivered
			o.DeliveredAt = dateOr(p.Date, now)
			if o.PaymentStatus == models.PaymentStatusAwaiting {
				o.PaymentStatus = models.PaymentStatusPaid
			}
		},
	},
	ActionCancel: {
		from:  []string{models.OrderStatusPending},
		scope: scopeOwner,
		apply: func(o *models.Order, _ StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusCancelled
		},
	},
	ActionAdminCancel: {
		from:  []string{models.OrderStatusPending, models.OrderStatusApproved, models.OrderStatusShipped},
		scope: scopeAdmin,
		apply: func(o *models.Order, p StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusCancelled
			if reason := strings.TrimSpace(p.Reason); reason != "" {
				o.RejectionReason = reason
			}
		},
	},
	ActionReturnRequest: {
		from:     []string{models.OrderStatusDelivered},
		scope:    scopeOwner,
		validate: requireReason,
		apply: func(o *models.Order, p StatusPayload, now time.Time) {
			o.Status = models.OrderStatusReturnRequested
			o.ReturnReason = strings.TrimSpace(p.Reason)
			o.ReturnedAt = dateOr(p.Date, now)
		},
	},
	ActionReturnApprove: {
		from:  []string{models.OrderStatusReturnRequested},
		scope: scopeAdmin,
		apply: func(o *models.Order, p StatusPayload, now time.Time) {
			o.Status = models.OrderStatusReturned
			o.PaymentStatus = models.PaymentStatusRefunded
			o.PickupAt = dateOr(p.Date, now)
		},
	},
	ActionRefundRequest: {
		from:  []string{models.OrderStatusCancelled, models.OrderStatusRejected},
		scope: scopeOwner,
		guard: func(o *models.Order) bool {
			return o.PaymentStatus == models.PaymentStatusPaid
		},
		apply: func(o *models.Order, _ StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusRefundRequested
			o.PaymentStatus = models.PaymentStatusRefundRequested
		},
	},
	ActionRefund: {
		from:  []string{models.OrderStatusRefundRequested},
		scope: scopeAdmin,
		apply: func(o *models.Order, _ StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusRefunded
			o.PaymentStatus = models.PaymentStatusRefunded
		},
	},
	ActionRestore: {
		from:  []string{models.OrderStatusCancelled, models.OrderStatusRejected},
		scope: scopeAdmin,
		apply: func(o *models.Order, _ StatusPayload, _ time.Time) {
			o.Status = models.OrderStatusPending
			o.RejectionReason = ""
		},
	},
	ActionRate: {
		from:  []string{models.OrderStatusDelivered},
		scope: scopeOwner,
		validate: func(p StatusPayload) error {
			if p.Rating == nil || *p.Rating < 1 || *p.Rating > 5 {
				return validationError("rating must be between 1 and 5")
			}
			return nil
		},
		apply: func(o *models.Order, p StatusPayload, _ time.Time) {
			rating := *p.Rating
			o.Rating = &rating
			o.Review = strings.TrimSpace(p.Review)
		},
	},
}

func requireReason(p StatusPayload) error {
	if strings.TrimSpace(p.Reason) == "" {
		return validationError("reason is required")
	}
	return nil
}

func dateOr(d *time.Time, now time.Time) *time.Time {
	if d != nil && !d.IsZero() {
		v := d.UTC()
		return &v
	}
	return &now
}

func permitted(scope actorScope, actor *models.Identity, order *models.Order) bool {
	owner := actor.UserID == order.UserID
	switch scope {
	case scopeAdmin:
		return actor.IsAdmin()
	case scopeOwner:
		return owner
	default:
		return owner || actor.IsAdmin()
	}
}

// AllowedActions lists the actions actor may apply to order in its current state.
func AllowedActions(actor *models.Identity, order *models.Order) []Action {
	if !actor.Authenticated() || order == nil {
		return nil
	}
	var out []Action
	for _, action := range actionOrder {
		rule := transitionRules[action]
		if !rule.allowedFrom(order.Status) || !permitted(rule.scope, actor, order) {
			continue
		}
		if rule.guard != nil && !rule.guard(order) {
			continue
		}
		out = append(out, action)
	}
	return out
}
