// Package projector consumes order events and maintains the Redis read
// model: the status cache that polls hit and each vendor's live order queue.
package projector

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-menu-orders/internal/kafka"
	"github.com/ariefcatur/go-menu-orders/internal/orders"
	"github.com/ariefcatur/go-menu-orders/internal/redisx"
)

type Projector struct {
	Cache *redisx.Cache
	// Name scopes the dedup keys, so two projections can read one topic.
	Name string
	Log  *slog.Logger
}

// HandleOrderCreated caches the new order's status and queues it for its vendor.
func (p *Projector) HandleOrderCreated(ctx context.Context, m kafka.Message) error {
	env, ok := p.envelope(m, orders.EventOrderCreated)
	if !ok {
		return nil
	}
	pl, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		p.Log.Warn("skip malformed payload", slog.String("event_id", env.EventID), slog.String("error", err.Error()))
		return nil
	}
	return p.once(ctx, env, func() error {
		if _, err := p.Cache.SetStatusIfNewer(ctx, pl.OrderID, redisx.StatusEntry{
			Status: string(pl.Status), ETA: pl.ETA, UpdatedAt: pl.CreatedAt,
		}); err != nil {
			return err
		}
		if err := p.Cache.Enqueue(ctx, pl.VendorID, pl.OrderID, pl.CreatedAt); err != nil {
			return err
		}
		p.Log.Info("order projected",
			slog.Int64("order_id", pl.OrderID),
			slog.Int64("vendor_id", pl.VendorID),
			slog.String("trace_id", env.TraceID))
		return nil
	})
}

// HandleStatusChanged refreshes the cached status and drops finished orders
// from the vendor queue.
func (p *Projector) HandleStatusChanged(ctx context.Context, m kafka.Message) error {
	env, ok := p.envelope(m, orders.EventOrderStatusChanged)
	if !ok {
		return nil
	}
	pl, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		p.Log.Warn("skip malformed payload", slog.String("event_id", env.EventID), slog.String("error", err.Error()))
		return nil
	}
	return p.once(ctx, env, func() error {
		wrote, err := p.Cache.SetStatusIfNewer(ctx, pl.OrderID, redisx.StatusEntry{
			Status: string(pl.To), ETA: pl.ETA, UpdatedAt: pl.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if pl.To.Terminal() {
			if err := p.Cache.Dequeue(ctx, pl.VendorID, pl.OrderID); err != nil {
				return err
			}
		}
		p.Log.Info("status projected",
			slog.Int64("order_id", pl.OrderID),
			slog.String("from", string(pl.From)),
			slog.String("to", string(pl.To)),
			slog.Bool("stale", !wrote))
		return nil
	})
}

// envelope decodes m and reports whether it carries eventType. Anything
// undecodable is logged and skipped; redelivering it cannot help.
func (p *Projector) envelope(m kafka.Message, eventType string) (kafkax.Envelope, bool) {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		p.Log.Warn("skip malformed event",
			slog.Int64("offset", m.Offset),
			slog.String("error", err.Error()))
		return kafkax.Envelope{}, false
	}
	return env, env.EventType == eventType
}

// once runs apply at most once per event id. A failed apply releases the
// claim so the consumer's retry applies it again.
func (p *Projector) once(ctx context.Context, env kafkax.Envelope, apply func() error) error {
	if env.EventID == "" {
		return apply()
	}
	first, err := p.Cache.FirstSeen(ctx, p.Name, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		p.Log.Debug("duplicate event", slog.String("event_id", env.EventID))
		return nil
	}
	if err := apply(); err != nil {
		if ferr := p.Cache.Forget(ctx, p.Name, env.EventID); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}
	return nil
}
