package reconciler

import (
	"context"
	"log/slog"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

// CarrierPass polls every carrier-verified order, one at a time.
// Only the initial listing can fail the pass; per-order failures are tallied.
func (r *Reconciler) CarrierPass(ctx context.Context) (Tally, error) {
	var t Tally
	orders, err := r.store.ListOrdersByMethod(ctx, models.MethodCarrierA, models.MethodCarrierB)
	if err != nil {
		return t, errors.Wrap(err, "list carrier-tracked orders")
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return t, ctx.Err()
		}
		if err := r.pollCarrier(ctx, o, &t); err != nil {
			t.Errored++
			slog.Error("carrier poll", "order_id", o.ID, "tracking_code", o.TrackingCode, "error", err.Error())
		}
	}
	return t, nil
}

func (r *Reconciler) pollCarrier(ctx context.Context, o models.Order, t *Tally) error {
	carrierID := o.Carrier
	if carrierID == "" {
		carrierID = carrier.CarrierOf(o.Method)
	}

	snap, err := r.fetch(ctx, carrierID, o.TrackingCode)
	if errors.Is(err, carrier.ErrNotThisCarrier) {
		// Verified earlier, so this is an upstream inconsistency. Leave it.
		t.Errored++
		slog.Warn("verified carrier no longer knows shipment", "order_id", o.ID, "carrier", carrierID, "tracking_code", o.TrackingCode)
		return nil
	}
	if err != nil {
		return err
	}

	if snap.Delivered {
		upd := snap.Update()
		o.StatusText = upd.StatusText
		o.StatusAt = upd.StatusAt
		o.CurrentLocation = upd.CurrentLocation
		o.NextLocation = upd.NextLocation
		if err := r.finalize(ctx, o, carrierID); err != nil {
			return err
		}
		t.Delivered++
		return nil
	}

	if err := r.syncJourney(ctx, o.TrackingCode, snap); err != nil {
		slog.Warn("store journey", "tracking_code", o.TrackingCode, "error", err.Error())
	}

	upd := snap.Update()
	if !statusChanged(o, upd) {
		return nil
	}
	if err := r.store.ApplyStatusUpdate(ctx, o.ID, upd); err != nil {
		return errors.Wrapf(err, "apply status to %s", o.ID)
	}
	t.StatusUpdated++
	r.pub.Publish(events.Event{
		Kind:      events.OrderStatusUpdated,
		SessionID: o.SessionID,
		OrderID:   o.ID,
		Data:      map[string]any{"status": upd.StatusText, "carrier": carrierID},
	})
	return nil
}

// statusChanged: status text, either location, or a first status timestamp.
func statusChanged(o models.Order, upd models.StatusUpdate) bool {
	if o.StatusText != upd.StatusText {
		return true
	}
	if !sameString(o.CurrentLocation, upd.CurrentLocation) || !sameString(o.NextLocation, upd.NextLocation) {
		return true
	}
	return o.StatusAt == nil && upd.StatusAt != nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RepairAwaiting re-verifies orders that hold a tracking code but were
// never moved off AWAITING_CODE.
func (r *Reconciler) RepairAwaiting(ctx context.Context) (Tally, error) {
	var t Tally
	orders, err := r.store.ListOrdersByMethod(ctx, models.MethodAwaitingCode)
	if err != nil {
		return t, errors.Wrap(err, "list awaiting orders")
	}

	for _, o := range orders {
		if !models.HasTrackingCode(o.TrackingCode) {
			continue
		}
		if ctx.Err() != nil {
			return t, ctx.Err()
		}
		v, err := r.verify(ctx, o.TrackingCode)
		if err != nil {
			t.Errored++
			slog.Warn("repair verification failed", "order_id", o.ID, "error", err.Error())
			continue
		}
		if err := r.store.AssignTracking(ctx, o.ID, v.assignment); err != nil {
			t.Errored++
			slog.Error("repair assign tracking", "order_id", o.ID, "error", err.Error())
			continue
		}
		if v.snapshot != nil {
			if err := r.syncJourney(ctx, o.TrackingCode, *v.snapshot); err != nil {
				slog.Warn("store journey", "tracking_code", o.TrackingCode, "error", err.Error())
			}
		}
		t.NewlyTracked++
		slog.Info("repaired awaiting order", "order_id", o.ID, "method", v.assignment.Method.String())
		r.pub.Publish(events.Event{
			Kind:      events.TrackingCodeFound,
			SessionID: o.SessionID,
			OrderID:   o.ID,
			Data:      map[string]any{"trackingCode": o.TrackingCode, "carrier": v.assignment.Carrier, "method": v.assignment.Method.String(), "repair": true},
		})
	}
	return t, nil
}
