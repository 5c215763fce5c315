package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	BatchSize   int // default: 15 credentials per marketplace call
	Concurrency int // default: 4 sessions reconciled in parallel inside a batch

	BatchBudget      time.Duration // default: 60 seconds
	PerSessionBudget time.Duration // default: 10 seconds

	StartDelay     time.Duration // default: 5 seconds
	Interval       time.Duration // default: 5 minutes
	IntervalJitter time.Duration // default: none
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		BatchSize:   15,
		Concurrency: 4,

		BatchBudget:      60 * time.Second,
		PerSessionBudget: 10 * time.Second,

		StartDelay: 5 * time.Second,
		Interval:   5 * time.Minute,
	}
}

// Planner decides how a cycle slices sessions into marketplace batches and
// how long each batch and the pause after a cycle may take.
type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchBudget <= 0 {
		cfg.BatchBudget = def.BatchBudget
	}
	if cfg.PerSessionBudget <= 0 {
		cfg.PerSessionBudget = def.PerSessionBudget
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = def.StartDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.IntervalJitter < 0 {
		cfg.IntervalJitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) Config() PlannerConfig { return p.cfg }

// Split cuts sessions into consecutive batches of at most BatchSize,
// keeping their order.
func (p *Planner) Split(sessions []models.Session) [][]models.Session {
	if len(sessions) == 0 {
		return nil
	}
	n := p.cfg.BatchSize
	out := make([][]models.Session, 0, (len(sessions)+n-1)/n)
	for start := 0; start < len(sessions); start += n {
		end := start + n
		if end > len(sessions) {
			end = len(sessions)
		}
		out = append(out, sessions[start:end])
	}
	return out
}

// BatchDeadline bounds the whole work of one batch: the marketplace call
// plus reconciling every session in it.
func (p *Planner) BatchDeadline(sessions int) time.Duration {
	if sessions < 1 {
		sessions = 1
	}
	return p.cfg.BatchBudget + time.Duration(sessions)*p.cfg.PerSessionBudget
}

// NextDelay is the pause before the next scheduled cycle.
func (p *Planner) NextDelay() time.Duration {
	if p.cfg.IntervalJitter <= 0 {
		return p.cfg.Interval
	}
	sec := int(p.cfg.IntervalJitter.Seconds())
	if sec <= 0 {
		return p.cfg.Interval
	}
	return p.cfg.Interval + time.Duration(p.r.Intn(sec+1))*time.Second
}
