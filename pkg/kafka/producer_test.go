package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"slotbook/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) header(i int, key string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range w.msgs[i].Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func buildMessage(t *testing.T, key string) Message {
	t.Helper()
	msg, err := NewMessage().
		WithKey(key).
		WithValue(map[string]string{"booking_id": key}).
		WithEventType("booking.allocated").
		Build()
	require.NoError(t, err)
	return msg
}

func TestProducer_PublishWritesMessage(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriters(w, nil, "slotbook.bookings", "")

	require.NoError(t, p.Publish(context.Background(), buildMessage(t, "b-1")))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "b-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"booking_id":"b-1"}`, string(w.msgs[0].Value))
	assert.Equal(t, "booking.allocated", w.header(0, HeaderEventType))
	assert.NotEmpty(t, w.header(0, HeaderEventID))
}

func TestProducer_RejectsEmptyKeyAndValue(t *testing.T) {
	p := NewProducerWithWriters(&fakeWriter{}, nil, "t", "")

	err := p.Publish(context.Background(), Message{Value: []byte("x")})
	assert.ErrorIs(t, err, ErrEmptyKey)

	err = p.Publish(context.Background(), Message{Key: "k"})
	assert.ErrorIs(t, err, ErrEmptyValue)
}

func TestProducer_FailedWriteGoesToDLQ(t *testing.T) {
	writeErr := errors.New("dial tcp: connection refused")
	w := &fakeWriter{err: writeErr}
	dlq := &fakeWriter{}
	p := NewProducerWithWriters(w, dlq, "slotbook.bookings", "slotbook.bookings.dlq")

	err := p.Publish(context.Background(), buildMessage(t, "b-2"))
	require.ErrorIs(t, err, writeErr)
	assert.Equal(t, ErrorTypeTransient, ClassifyError(err))

	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "slotbook.bookings", dlq.header(0, HeaderOriginalTopic))
	assert.Equal(t, writeErr.Error(), dlq.header(0, "dlq-error"))
}

func TestProducer_MiddlewareOrder(t *testing.T) {
	p := NewProducerWithWriters(&fakeWriter{}, nil, "t", "")

	var order []string
	for _, name := range []string{"first", "second"} {
		p.Use(func(ctx context.Context, msg Message, next func(ctx context.Context, msg Message) error) error {
			order = append(order, name)
			return next(ctx, msg)
		})
	}
	p.Use(LoggingMiddleware(logger.Discard()))

	require.NoError(t, p.Publish(context.Background(), buildMessage(t, "b-3")))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	dlq := &fakeWriter{}
	p := NewProducerWithWriters(w, dlq, "t", "t.dlq")

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.True(t, dlq.closed)

	err := p.Publish(context.Background(), buildMessage(t, "b-4"))
	assert.ErrorIs(t, err, ErrProducerClosed)
}

func TestMessageBuilder_EncodingFailure(t *testing.T) {
	_, err := NewMessage().WithKey("k").WithValue(make(chan int)).Build()
	assert.Error(t, err)
}

func TestMessageBuilder_DefaultsAndDecode(t *testing.T) {
	msg, err := NewMessage().
		WithKey("k").
		WithValue(struct {
			Fee int64 `json:"fee"`
		}{Fee: 30}).
		WithCorrelationID("").
		WithSource("slotbook").
		Build()
	require.NoError(t, err)

	assert.NotEmpty(t, msg.GetEventID())
	assert.NotEmpty(t, msg.Headers[HeaderTimestamp])
	assert.Empty(t, msg.GetCorrelationID())
	assert.Equal(t, "slotbook", msg.Headers[HeaderSource])

	var out struct {
		Fee int64 `json:"fee"`
	}
	require.NoError(t, msg.DecodeValue(&out))
	assert.Equal(t, int64(30), out.Fee)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorTypeUnknown, ClassifyError(nil))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(ErrEmptyKey))
	assert.Equal(t, ErrorTypeTransient, ClassifyError(errors.New("i/o timeout")))
	assert.Equal(t, ErrorTypePermanent, ClassifyError(errors.New("message too large")))
	assert.Equal(t, "transient", ErrorTypeTransient.String())
}
