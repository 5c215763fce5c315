package reconciler

import (
	"context"
	"log/slog"

	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/pkg/errors"
)

// ReconcileSession applies one successful marketplace poll of s.
//
// drafts are the records attributed to s, in response order; cached are the
// orders s owned before the poll. Only the first live draft may become a
// new order (one tracked order per session); drafts
// that are already cached keep being reconciled so existing orders never
// go stale. An empty poll is not read as cancellation of everything the
// session owns.
func (r *Reconciler) ReconcileSession(ctx context.Context, s models.Session, drafts []models.OrderDraft, cached []models.Order) Tally {
	var t Tally

	known := make(map[string]models.Order, len(cached))
	for _, o := range cached {
		known[o.ID] = o
	}

	first := true
	for _, d := range drafts {
		if d.Cancelled {
			continue
		}
		cur, isCached := known[d.ID]
		if !isCached {
			// The marketplace lags behind the carrier: a finalized order can
			// still be listed as in transit.
			archived, err := r.store.GetDelivered(ctx, d.ID)
			if err != nil {
				t.Errored++
				slog.Error("lookup archive", "order_id", d.ID, "error", err.Error())
				continue
			}
			if archived != nil {
				continue
			}
		}
		if !first && !isCached {
			slog.Debug("capped", "session_id", s.ID, "order_id", d.ID)
			continue
		}
		first = false

		var prev *models.Order
		if isCached {
			prev = &cur
		}
		if err := r.reconcileDraft(ctx, s, d, prev, &t); err != nil {
			t.Errored++
			slog.Error("reconcile order", "session_id", s.ID, "order_id", d.ID, "error", err.Error())
		}
	}

	if len(drafts) > 0 {
		r.detectCancelled(ctx, s, drafts, cached, &t)
	}
	return t
}

func (r *Reconciler) reconcileDraft(ctx context.Context, s models.Session, d models.OrderDraft, prev *models.Order, t *Tally) error {
	// 1. The marketplace says it is delivered.
	if d.Completed {
		o := merge(s.ID, d, prev)
		if err := r.finalize(ctx, o, models.DeliveredViaMarketplace); err != nil {
			return err
		}
		t.Delivered++
		return nil
	}

	// 2. Carrier-verified orders only move through the carrier pass.
	if prev != nil && prev.Method.Verified() {
		return nil
	}

	// 3. A tracking code showed up.
	if models.HasTrackingCode(d.TrackingCode) && (prev == nil || prev.TrackingCode != d.TrackingCode) {
		return r.adoptCode(ctx, s, d, prev, t)
	}

	// 4. Nothing new but maybe the status text.
	return r.writeIfChanged(ctx, s, d, prev, t)
}

func (r *Reconciler) adoptCode(ctx context.Context, s models.Session, d models.OrderDraft, prev *models.Order, t *Tally) error {
	v, err := r.verify(ctx, d.TrackingCode)
	if err != nil {
		t.Errored++
		slog.Warn("tracking code verification failed", "order_id", d.ID, "tracking_code", d.TrackingCode, "error", err.Error())
		// Keep the order without the unverified code so the next poll retries.
		d.TrackingCode = ""
		if prev != nil {
			d.TrackingCode = prev.TrackingCode
		}
		// Already counted once for this draft.
		if err := r.writeIfChanged(ctx, s, d, prev, t); err != nil {
			slog.Error("store order after failed verification", "order_id", d.ID, "error", err.Error())
		}
		return nil
	}

	o := merge(s.ID, d, prev)
	o.TrackingCode = v.assignment.TrackingCode
	o.Carrier = v.assignment.Carrier
	o.Method = v.assignment.Method
	if err := r.store.UpsertOrder(ctx, o); err != nil {
		return errors.Wrapf(err, "store tracking code for %s", o.ID)
	}
	if v.snapshot != nil {
		if err := r.syncJourney(ctx, o.TrackingCode, *v.snapshot); err != nil {
			slog.Warn("store journey", "tracking_code", o.TrackingCode, "error", err.Error())
		}
	}
	t.NewlyTracked++
	slog.Info("tracking code found", "order_id", o.ID, "tracking_code", o.TrackingCode, "method", o.Method.String())
	r.pub.Publish(events.Event{
		Kind:      events.TrackingCodeFound,
		SessionID: s.ID,
		OrderID:   o.ID,
		Data:      map[string]any{"trackingCode": o.TrackingCode, "carrier": o.Carrier, "method": o.Method.String()},
	})
	return nil
}

func (r *Reconciler) writeIfChanged(ctx context.Context, s models.Session, d models.OrderDraft, prev *models.Order, t *Tally) error {
	if prev != nil && prev.StatusText == d.StatusText {
		return nil
	}
	o := merge(s.ID, d, prev)
	if prev == nil {
		o.TrackingCode = ""
	}
	if err := r.store.UpsertOrder(ctx, o); err != nil {
		return errors.Wrapf(err, "store order %s", o.ID)
	}
	kind := events.OrderUpdated
	if prev == nil {
		kind = events.OrderTracked
		t.NewlyTracked++
	} else {
		t.StatusUpdated++
	}
	r.pub.Publish(events.Event{Kind: kind, SessionID: s.ID, OrderID: o.ID, Data: map[string]any{"status": o.StatusText}})
	return nil
}

// detectCancelled purges cached orders that vanished from a non-empty poll
// and cached orders the marketplace flags as cancelled. Nothing is archived.
func (r *Reconciler) detectCancelled(ctx context.Context, s models.Session, drafts []models.OrderDraft, cached []models.Order, t *Tally) {
	seen := make(map[string]models.OrderDraft, len(drafts))
	for _, d := range drafts {
		seen[d.ID] = d
	}

	removed := 0
	for _, o := range cached {
		d, present := seen[o.ID]
		if present && !d.Cancelled {
			continue
		}
		if present && d.Completed {
			continue
		}
		reason := "absent"
		if present {
			reason = "cancelled"
		}
		if err := r.store.DeleteOrder(ctx, o.ID); err != nil {
			t.Errored++
			slog.Error("purge cancelled order", "order_id", o.ID, "error", err.Error())
			continue
		}
		if models.HasTrackingCode(o.TrackingCode) {
			if err := r.store.DeleteJourney(ctx, o.TrackingCode); err != nil {
				slog.Warn("purge journey", "tracking_code", o.TrackingCode, "error", err.Error())
			}
		}
		removed++
		t.Cancelled++
		slog.Info("order cancelled", "order_id", o.ID, "session_id", s.ID, "reason", reason)
		r.pub.Publish(events.Event{Kind: events.OrderCancelled, SessionID: s.ID, OrderID: o.ID, Data: map[string]any{"reason": reason}})
	}

	if removed > 0 && r.sessions != nil {
		if _, err := r.sessions.TryPurge(ctx, s.ID); err != nil {
			slog.Error("purge session after cancellation", "session_id", s.ID, "error", err.Error())
		}
	}
}

// merge lays the draft's marketplace fields over the cached order, keeping
// tracking and carrier-owned fields.
func merge(sessionID uint64, d models.OrderDraft, prev *models.Order) models.Order {
	var o models.Order
	if prev != nil {
		o = *prev
	} else {
		o.TrackingCode = d.TrackingCode
		if !models.HasTrackingCode(o.TrackingCode) {
			o.TrackingCode = ""
		}
	}
	o.ID = d.ID
	o.SessionID = sessionID
	o.Product = d.Product
	o.Shop = d.Shop
	o.Image = d.Image
	o.Quantity = d.Quantity
	o.UnitPrice = d.UnitPrice
	o.TotalPrice = d.TotalPrice
	o.RecipientName = d.RecipientName
	o.RecipientPhone = d.RecipientPhone
	o.StatusText = d.StatusText
	return o
}
