package worker

import (
	"context"

	"soilify/internal/broker"
	"soilify/internal/models"
	"soilify/internal/realtime"
	"soilify/internal/service"
	"soilify/internal/util"

	"go.uber.org/zap"
)

// Source is a stream of Kafka messages.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentWorker reconciles orders from gateway payment events
type PaymentWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	reconciler   service.PaymentReconciler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(source Source, reconciler service.PaymentReconciler) *PaymentWorker {
	pw := &PaymentWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		reconciler:   reconciler,
		logger:       util.GetLogger().With(zap.String("worker", "payment")),
	}
	pw.eventHandler.OnPaymentEvent(pw.handlePayment)
	return pw
}

func (pw *PaymentWorker) handlePayment(ctx context.Context, event *models.PaymentEvent) error {
	success := event.EventType == models.EventTypePaymentSuccess
	order, err := pw.reconciler.RecordPayment(ctx, event.Reference, success)
	if err != nil {
		util.PaymentCallbacksTotal.WithLabelValues("error").Inc()
		return err
	}
	if order == nil {
		pw.logger.Info("Payment reference has no order yet", zap.String("reference", event.Reference))
		return nil
	}
	pw.logger.Info("Payment reconciled",
		zap.String("reference", event.Reference),
		zap.String("order_id", order.ID),
		zap.String("payment_status", order.PaymentStatus))
	return nil
}

// Start starts the payment worker
func (pw *PaymentWorker) Start(ctx context.Context) error {
	pw.logger.Info("Starting payment worker")
	return pw.source.StartConsuming(ctx, pw.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (pw *PaymentWorker) Stop() error {
	pw.logger.Info("Stopping payment worker")
	return pw.source.Close()
}

// ChangeWorker forwards table-changed events to realtime subscribers
type ChangeWorker struct {
	source       Source
	eventHandler *broker.EventHandler
	hub          *realtime.Hub
	logger       *zap.Logger
}

// NewChangeWorker creates a new change worker
func NewChangeWorker(source Source, hub *realtime.Hub) *ChangeWorker {
	cw := &ChangeWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		hub:          hub,
		logger:       util.GetLogger().With(zap.String("worker", "changes")),
	}
	cw.eventHandler.OnTableChanged(cw.handleTableChanged)
	cw.eventHandler.OnOrderEvent(cw.handleOrder)
	return cw
}

func (cw *ChangeWorker) handleTableChanged(_ context.Context, event *models.TableChangedEvent) error {
	n := cw.hub.Publish(realtime.Change{Table: event.Table, At: event.Timestamp})
	cw.logger.Debug("Broadcast table change",
		zap.String("table", event.Table),
		zap.Int("subscribers", n))
	return nil
}

func (cw *ChangeWorker) handleOrder(_ context.Context, event *models.OrderEvent) error {
	cw.logger.Info("Order event",
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
		zap.String("action", event.Action),
		zap.String("status", event.Status))
	return nil
}

// Start starts the change worker
func (cw *ChangeWorker) Start(ctx context.Context) error {
	cw.logger.Info("Starting change worker")
	return cw.source.StartConsuming(ctx, cw.eventHandler.HandleMessage)
}

// Stop stops the change worker
func (cw *ChangeWorker) Stop() error {
	cw.logger.Info("Stopping change worker")
	return cw.source.Close()
}
