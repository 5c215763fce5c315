package poller

import (
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	pollermocks "github.com/BearBump/ParcelSync/internal/services/poller/mocks"
	"github.com/stretchr/testify/suite"
)

type PlannerSuite struct {
	suite.Suite
}

func sessionsN(n int) []models.Session {
	out := make([]models.Session, n)
	for i := range out {
		out[i] = models.Session{ID: uint64(i + 1), Status: models.SessionActive}
	}
	return out
}

func (s *PlannerSuite) TestDefaults() {
	p := NewPlanner(PlannerConfig{}, nil)
	s.Equal(DefaultPlannerConfig(), p.Config())
}

func (s *PlannerSuite) TestSplit_KeepsOrderAndSize() {
	p := NewPlanner(PlannerConfig{BatchSize: 4}, nil)
	batches := p.Split(sessionsN(10))
	s.Require().Len(batches, 3)
	s.Len(batches[0], 4)
	s.Len(batches[1], 4)
	s.Len(batches[2], 2)
	s.Equal(uint64(5), batches[1][0].ID)
	s.Equal(uint64(10), batches[2][1].ID)

	s.Nil(p.Split(nil))
}

func (s *PlannerSuite) TestBatchDeadline_ScalesWithSize() {
	p := NewPlanner(PlannerConfig{BatchBudget: 30 * time.Second, PerSessionBudget: 3 * time.Second}, nil)
	s.Equal(33*time.Second, p.BatchDeadline(0))
	s.Equal(33*time.Second, p.BatchDeadline(1))
	s.Equal(75*time.Second, p.BatchDeadline(15))
}

func (s *PlannerSuite) TestNextDelay_NoJitterSkipsRand() {
	m := &pollermocks.Rand{}
	p := NewPlanner(PlannerConfig{Interval: time.Minute}, m)
	s.Equal(time.Minute, p.NextDelay())
	m.AssertNotCalled(s.T(), "Intn")
}

func (s *PlannerSuite) TestNextDelay_UsesRand() {
	m := pollermocks.NewRand(s.T())
	m.On("Intn", 31).Return(7).Once()

	p := NewPlanner(PlannerConfig{Interval: 5 * time.Minute, IntervalJitter: 30 * time.Second}, m)
	s.Equal(5*time.Minute+7*time.Second, p.NextDelay())
}

func TestPlannerSuite(t *testing.T) {
	suite.Run(t, new(PlannerSuite))
}
