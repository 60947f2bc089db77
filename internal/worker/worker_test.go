package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"soilify/internal/broker"
	"soilify/internal/models"
	"soilify/internal/realtime"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replaySource struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (r *replaySource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range r.messages {
		r.errs = append(r.errs, handler(ctx, msg))
	}
	return nil
}

func (r *replaySource) Close() error {
	r.closed = true
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

type recordedPayment struct {
	ref     string
	success bool
}

type fakeReconciler struct {
	calls []recordedPayment
	order *models.Order
	err   error
}

func (f *fakeReconciler) RecordPayment(_ context.Context, ref string, success bool) (*models.Order, error) {
	f.calls = append(f.calls, recordedPayment{ref, success})
	return f.order, f.err
}

func TestPaymentWorkerReconciles(t *testing.T) {
	source := &replaySource{messages: []kafka.Message{
		message(t, models.PaymentEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypePaymentSuccess}, Reference: "PAY-1"}),
		message(t, models.PaymentEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypePaymentFailed}, Reference: "PAY-2"}),
		message(t, models.TableChangedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeTableChanged}, Table: "orders"}),
	}}
	rec := &fakeReconciler{order: &models.Order{ID: "ORD-1", PaymentStatus: models.PaymentStatusPaid}}

	pw := NewPaymentWorker(source, rec)
	require.NoError(t, pw.Start(context.Background()))
	require.NoError(t, pw.Stop())

	assert.Equal(t, []recordedPayment{{"PAY-1", true}, {"PAY-2", false}}, rec.calls)
	assert.Equal(t, []error{nil, nil, nil}, source.errs)
	assert.True(t, source.closed)
}

func TestPaymentWorkerSurfacesErrorsForRetry(t *testing.T) {
	source := &replaySource{messages: []kafka.Message{
		message(t, models.PaymentEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypePaymentSuccess}, Reference: "PAY-1"}),
	}}
	pw := NewPaymentWorker(source, &fakeReconciler{err: errors.New("db down")})
	require.NoError(t, pw.Start(context.Background()))
	require.Len(t, source.errs, 1)
	assert.Error(t, source.errs[0])
}

func TestChangeWorkerBroadcasts(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	source := &replaySource{messages: []kafka.Message{
		message(t, models.TableChangedEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeTableChanged, Timestamp: at}, Table: "products"}),
		message(t, models.OrderEvent{BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderPlaced}, OrderID: "ORD-1"}),
	}}
	hub := realtime.NewHub(4)
	changes, unsub := hub.Subscribe()
	defer unsub()

	cw := NewChangeWorker(source, hub)
	require.NoError(t, cw.Start(context.Background()))

	require.Len(t, changes, 1)
	got := <-changes
	assert.Equal(t, "products", got.Table)
	assert.True(t, got.At.Equal(at))
	assert.Equal(t, []error{nil, nil}, source.errs)
}
