package poller

import (
	"context"
	"log/slog"

	"github.com/BearBump/ParcelSync/internal/integrations/marketplace"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/reconciler"
	"github.com/BearBump/ParcelSync/internal/services/sessions"
	"github.com/pkg/errors"
)

// SessionReport describes one manual session check.
type SessionReport struct {
	SessionID uint64               `json:"sessionId"`
	Status    models.SessionStatus `json:"status"`
	Verdict   string               `json:"verdict"`
	Records   int                  `json:"records"`
	Expired   bool                 `json:"expired,omitempty"`
	Error     string               `json:"error,omitempty"`
	Tally     reconciler.Tally     `json:"tally"`
}

// CheckSession polls one session of any status through the marketplace
// pass. This is how pending sessions get promoted.
func (p *Poller) CheckSession(ctx context.Context, id uint64) (SessionReport, error) {
	release, err := p.acquire(ctx, "check_session")
	if err != nil {
		return SessionReport{SessionID: id}, err
	}
	defer release()

	s, err := p.store.GetSession(ctx, id)
	if err != nil {
		return SessionReport{SessionID: id}, errors.Wrap(err, "get session")
	}
	if s == nil {
		return SessionReport{SessionID: id}, ErrSessionNotFound
	}
	rep := p.check(ctx, *s)
	if rep.Error != "" {
		return rep, errors.New(rep.Error)
	}
	return rep, nil
}

// CheckQueue checks every pending session, one credential per call.
func (p *Poller) CheckQueue(ctx context.Context) ([]SessionReport, error) {
	release, err := p.acquire(ctx, "check_queue")
	if err != nil {
		return nil, err
	}
	defer release()

	pending, err := p.store.ListSessionsByStatus(ctx, models.SessionPending)
	if err != nil {
		return nil, errors.Wrap(err, "list pending sessions")
	}
	out := make([]SessionReport, 0, len(pending))
	for _, s := range pending {
		if ctx.Err() != nil {
			break
		}
		out = append(out, p.check(ctx, s))
	}
	slog.Info("pending queue checked", "sessions", len(out))
	return out, nil
}

func (p *Poller) check(ctx context.Context, s models.Session) SessionReport {
	rep := SessionReport{SessionID: s.ID, Status: s.Status}
	ctx, cancel := context.WithTimeout(ctx, p.planner.BatchDeadline(1))
	defer cancel()
	p.sessionsPolled.Add(1)

	res, err := p.market.FetchBatch(ctx, []string{s.Credential})
	if errors.Is(err, marketplace.ErrCredentialExpired) {
		rep.Expired = true
		if err := p.expire(ctx, s); err != nil {
			rep.Error = err.Error()
		}
		rep.Status = models.SessionDisabled
		return rep
	}
	if err != nil {
		rep.Error = err.Error()
		slog.Warn("session check failed", "session_id", s.ID, "error", err.Error())
		return rep
	}

	rep.Records = len(res.Drafts)
	cached, err := p.store.ListOrdersBySessions(ctx, []uint64{s.ID})
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	verdict, err := p.sessions.Observe(ctx, s, res.Drafts)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Verdict = verdict.String()
	if verdict != sessions.VerdictImplausible {
		rep.Tally = p.rec.ReconcileSession(ctx, s, res.Drafts, cached)
	}

	if cur, err := p.store.GetSession(ctx, s.ID); err == nil && cur != nil {
		rep.Status = cur.Status
	} else if err == nil {
		// Finalizing its only order purged the session.
		rep.Status = ""
	}
	slog.Info("session checked", "session_id", s.ID, "verdict", rep.Verdict, "records", rep.Records, "status", rep.Status)
	return rep
}

// ProbeResult says whether a credential currently yields usable data.
type ProbeResult struct {
	Valid  bool               `json:"valid"`
	Reason string             `json:"reason,omitempty"`
	Order  *models.OrderDraft `json:"order,omitempty"`
}

// Probe polls a credential without storing anything.
func (p *Poller) Probe(ctx context.Context, raw string) (ProbeResult, error) {
	c, err := sessions.ValidateCredential(raw)
	if err != nil {
		return ProbeResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.planner.BatchDeadline(1))
	defer cancel()

	res, err := p.market.FetchBatch(ctx, []string{c})
	if errors.Is(err, marketplace.ErrCredentialExpired) {
		return ProbeResult{Reason: "credential expired"}, nil
	}
	if err != nil {
		return ProbeResult{}, errors.Wrap(err, "probe credential")
	}
	if len(res.Drafts) > 0 && !marketplace.Plausible(res.Drafts) {
		return ProbeResult{Reason: "placeholder data"}, nil
	}
	out := ProbeResult{Valid: true}
	for _, d := range res.Drafts {
		if !d.Cancelled {
			d := d
			out.Order = &d
			break
		}
	}
	return out, nil
}
