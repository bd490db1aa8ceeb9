package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"gotest.tools/v3/assert"
)

func newTestPoller(orders *mockOrders, carts *mockCarts) *Poller {
	return &Poller{orders: orders, carts: carts, log: slog.Default()}
}

func encode(t *testing.T, ev PaymentEvent) []byte {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestHandle_PaidClearsCart(t *testing.T) {
	orders := newMockOrders(domain.Order{ID: "o1", CartID: "c1", UserID: "u1", PaymentStatus: domain.PaymentPending})
	carts := &mockCarts{}
	p := newTestPoller(orders, carts)

	err := p.handle(context.Background(), encode(t, PaymentEvent{OrderID: "o1", PaymentStatus: domain.PaymentPaid}))
	require.NoError(t, err)

	paid := carts.cleared()
	assert.Equal(t, 1, len(paid))
	assert.Equal(t, "c1", paid[0].CartID)
	assert.Equal(t, "u1", paid[0].UserID)

	o, err := orders.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
}

func TestHandle_FailedPaymentKeepsCart(t *testing.T) {
	orders := newMockOrders(domain.Order{ID: "o1", CartID: "c1", UserID: "u1", PaymentStatus: domain.PaymentPending})
	carts := &mockCarts{}
	p := newTestPoller(orders, carts)

	err := p.handle(context.Background(), encode(t, PaymentEvent{OrderID: "o1", PaymentStatus: domain.PaymentFailed}))
	require.NoError(t, err)
	assert.Equal(t, 0, len(carts.cleared()))
}

func TestHandle_UnknownOrderUsesEvent(t *testing.T) {
	carts := &mockCarts{}
	p := newTestPoller(newMockOrders(), carts)

	err := p.handle(context.Background(), encode(t, PaymentEvent{
		OrderID: "o2", CartID: "c2", UserID: "u2", PaymentStatus: domain.PaymentPaid,
	}))
	require.NoError(t, err)
	paid := carts.cleared()
	assert.Equal(t, 1, len(paid))
	assert.Equal(t, "c2", paid[0].CartID)
}

func TestHandle_SkipsMalformed(t *testing.T) {
	carts := &mockCarts{}
	p := newTestPoller(newMockOrders(), carts)

	assert.NilError(t, p.handle(context.Background(), []byte("{not json")))
	assert.NilError(t, p.handle(context.Background(), []byte(`{"user_id":"u1"}`)))
	assert.Equal(t, 0, len(carts.cleared()))
}

func TestHandle_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	orders := newMockOrders()
	orders.err = boom
	p := newTestPoller(orders, &mockCarts{})
	err := p.handle(ctx, encode(t, PaymentEvent{OrderID: "o1", PaymentStatus: domain.PaymentPaid}))
	assert.ErrorIs(t, err, boom)

	carts := &mockCarts{err: boom}
	p2 := newTestPoller(newMockOrders(domain.Order{ID: "o1", CartID: "c1", UserID: "u1"}), carts)
	err = p2.handle(ctx, encode(t, PaymentEvent{OrderID: "o1", PaymentStatus: domain.PaymentPaid}))
	assert.ErrorIs(t, err, boom)
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}
	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	brokers, cleanupKafka := setupKafka(t)
	defer cleanupKafka()
	createTopic(t, brokers, DefaultTopic)

	orders := newMockOrders(domain.Order{ID: "o1", CartID: "c1", UserID: "u1", PaymentStatus: domain.PaymentPending})
	carts := &mockCarts{}
	p := NewPoller(orders, carts, Options{Brokers: []string{brokers}})
	defer p.Close()

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers),
		Topic:                  DefaultTopic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err := w.WriteMessages(ctx,
		kafkaGo.Message{Key: []byte("o1"), Value: []byte("garbage")},
		kafkaGo.Message{Key: []byte("o1"), Value: encode(t, PaymentEvent{OrderID: "o1", PaymentStatus: domain.PaymentPaid})},
	)
	require.NoError(t, err)
	w.Close()

	go p.Run(ctx)
	require.Eventually(t, func() bool {
		return len(carts.cleared()) == 1
	}, 30*time.Second, 500*time.Millisecond)

	o, err := orders.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
}
