package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/cartsync/internal/domain"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "payment-events"
	DefaultGroupID = "cartsync-payments"
)

// PaymentEvent is the message published when an order's payment settles.
type PaymentEvent struct {
	OrderID       string               `json:"order_id"`
	CartID        string               `json:"cart_id"`
	UserID        string               `json:"user_id"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
}

// PaidCarts empties the carts paid for by an order.
type PaidCarts interface {
	ClearPaid(ctx context.Context, order domain.Order) (int, error)
}

type Options struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

// Poller consumes payment events, records the payment status on the order and
// clears the paid cart.
type Poller struct {
	orders repository.OrderRepository
	carts  PaidCarts
	reader *kafka.Reader
	log    *slog.Logger
}

func NewPoller(orders repository.OrderRepository, carts PaidCarts, opts Options) *Poller {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.GroupID == "" {
		opts.GroupID = DefaultGroupID
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		orders: orders,
		carts:  carts,
		reader: reader,
		log:    opts.Logger.With("component", "payment-poller", "topic", opts.Topic),
	}
}

func (p *Poller) Run(ctx context.Context) {
	p.log.Info("payment poller started")
	for {
		if ctx.Err() != nil {
			p.log.Info("payment poller stopped")
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error("error reading message", "error", err)
			pause(ctx, time.Second)
			continue
		}
		if err := p.handle(ctx, m.Value); err != nil {
			p.log.Error("failed to handle payment event", "offset", m.Offset, "error", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", "error", err)
	}
}

// handle applies one payment event. Malformed messages are logged and skipped
// so they do not block the partition.
func (p *Poller) handle(ctx context.Context, value []byte) error {
	var ev PaymentEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		p.log.Warn("skipping malformed payment event", "error", err)
		return nil
	}
	if ev.OrderID == "" || ev.PaymentStatus == "" {
		p.log.Warn("skipping payment event without order id or status", "order_id", ev.OrderID)
		return nil
	}

	order, err := p.orders.UpdatePaymentStatus(ctx, ev.OrderID, ev.PaymentStatus)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		p.log.Warn("payment for unknown order, using event data", "order_id", ev.OrderID)
		order = &domain.Order{ID: ev.OrderID, CartID: ev.CartID, UserID: ev.UserID, PaymentStatus: ev.PaymentStatus}
	case err != nil:
		return fmt.Errorf("update payment status of %s: %w", ev.OrderID, err)
	}

	if order.PaymentStatus != domain.PaymentPaid {
		p.log.Info("order payment updated", "order_id", order.ID, "status", order.PaymentStatus)
		return nil
	}
	cleared, err := p.carts.ClearPaid(ctx, *order)
	if err != nil {
		return fmt.Errorf("clear cart of order %s: %w", order.ID, err)
	}
	p.log.Info("order paid", "order_id", order.ID, "cart_id", order.CartID, "sessions_cleared", cleared)
	return nil
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
