// Package attribution maps order records from a batched marketplace
// response back to the credential that produced them.
package attribution

import (
	"context"

	"github.com/BearBump/ParcelSync/internal/models"
)

// Rule names the step of the fallback chain that attributed a record.
type Rule string

const (
	RuleOrdinal     Rule = "ordinal"
	RulePriorOwner  Rule = "prior_owner"
	RuleCacheLookup Rule = "cache_lookup"
	RuleNone        Rule = "none"
)

type Result struct {
	SessionID uint64
	Rule      Rule
}

// OK reports whether the record was attributed.
func (r Result) OK() bool { return r.Rule != RuleNone }

// OrderLookup finds a cached order by id. It returns (nil, nil) when absent.
type OrderLookup interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

// Batch is one batched marketplace request: Sessions[i] sent credential
// ordinal i+1. Known indexes the cached orders of those sessions by id.
type Batch struct {
	Sessions []models.Session
	Known    map[string]uint64

	members map[uint64]struct{}
}

func NewBatch(sessions []models.Session, cached []models.Order) *Batch {
	b := &Batch{
		Sessions: sessions,
		Known:    make(map[string]uint64, len(cached)),
		members:  make(map[uint64]struct{}, len(sessions)),
	}
	for _, s := range sessions {
		b.members[s.ID] = struct{}{}
	}
	for _, o := range cached {
		if _, ok := b.members[o.SessionID]; ok {
			b.Known[o.ID] = o.SessionID
		}
	}
	return b
}

func (b *Batch) Contains(sessionID uint64) bool {
	_, ok := b.members[sessionID]
	return ok
}

// Resolve attributes one draft. The chain is: explicit ordinal, the owner
// already recorded for the order in this batch's cache, then a store lookup
// by order id. An owner outside the batch never counts. Lookup errors leave
// the record unattributed.
func Resolve(ctx context.Context, d models.OrderDraft, b *Batch, lookup OrderLookup) (Result, error) {
	if d.Ordinal >= 1 && d.Ordinal <= len(b.Sessions) {
		return Result{SessionID: b.Sessions[d.Ordinal-1].ID, Rule: RuleOrdinal}, nil
	}
	if sid, ok := b.Known[d.ID]; ok {
		return Result{SessionID: sid, Rule: RulePriorOwner}, nil
	}
	if lookup != nil {
		o, err := lookup.GetOrder(ctx, d.ID)
		if err != nil {
			return Result{Rule: RuleNone}, err
		}
		if o != nil && b.Contains(o.SessionID) {
			return Result{SessionID: o.SessionID, Rule: RuleCacheLookup}, nil
		}
	}
	return Result{Rule: RuleNone}, nil
}
