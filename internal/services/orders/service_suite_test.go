package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	cachemocks "github.com/BearBump/ParcelSync/internal/cache/mocks"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/BearBump/ParcelSync/internal/models"
	ordersmocks "github.com/BearBump/ParcelSync/internal/services/orders/mocks"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ServiceSuite struct {
	suite.Suite

	repo  *ordersmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &ordersmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, s.cache, time.Minute)
}

func (s *ServiceSuite) TestActive_CacheHit_NoDB() {
	b, _ := json.Marshal([]models.Order{{ID: "111"}})
	s.cache.On("Get", mock.Anything, "orders:active").Return(b, true, nil).Once()

	out, err := s.svc.Active(context.Background())
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("111", out[0].ID)

	s.repo.AssertNotCalled(s.T(), "ListActiveOrders", mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestActive_CacheMiss_LoadsAndStores() {
	s.cache.On("Get", mock.Anything, "orders:active").Return(nil, false, nil).Once()
	s.repo.On("ListActiveOrders", mock.Anything).Return([]models.Order{{ID: "1"}, {ID: "2"}}, nil).Once()
	s.cache.On("Set", mock.Anything, "orders:active", mock.Anything, time.Minute).Return(nil).Once()

	out, err := s.svc.Active(context.Background())
	s.Require().NoError(err)
	s.Len(out, 2)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestActive_CacheErrorFallsBackToDB() {
	s.cache.On("Get", mock.Anything, "orders:active").Return(nil, false, errors.New("redis down")).Once()
	s.repo.On("ListActiveOrders", mock.Anything).Return([]models.Order{{ID: "1"}}, nil).Once()
	s.cache.On("Set", mock.Anything, "orders:active", mock.Anything, time.Minute).Return(errors.New("redis down")).Once()

	out, err := s.svc.Active(context.Background())
	s.Require().NoError(err)
	s.Len(out, 1)
}

func (s *ServiceSuite) TestActive_TTLZeroDisablesCache() {
	svc := New(s.repo, s.cache, 0)
	s.repo.On("ListActiveOrders", mock.Anything).Return([]models.Order{}, nil).Once()

	_, err := svc.Active(context.Background())
	s.Require().NoError(err)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestJourney_ResolvesThroughOrder() {
	s.cache.On("Get", mock.Anything, "order:42:journey").Return(nil, false, nil).Once()
	s.repo.On("GetOrder", mock.Anything, "42").Return(&models.Order{ID: "42", TrackingCode: "SPXVN0001"}, nil).Once()
	s.repo.On("GetJourney", mock.Anything, "SPXVN0001").
		Return(&models.TrackingJourney{TrackingCode: "SPXVN0001", Carrier: "SPX", Events: []models.JourneyEvent{{Text: "Đã lấy hàng"}}}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "order:42:journey", mock.Anything, time.Minute).Return(nil).Once()

	j, err := s.svc.Journey(context.Background(), "42")
	s.Require().NoError(err)
	s.Equal("SPX", j.Carrier)
	s.Len(j.Events, 1)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestJourney_NoCodeIsNotFound() {
	s.cache.On("Get", mock.Anything, mock.Anything).Return(nil, false, nil)
	s.repo.On("GetOrder", mock.Anything, "7").Return(&models.Order{ID: "7", TrackingCode: models.TrackingCodeUnknownVI}, nil).Once()
	s.repo.On("GetOrder", mock.Anything, "8").Return(nil, nil).Once()

	_, err := s.svc.Journey(context.Background(), "7")
	s.ErrorIs(err, storage.ErrNotFound)
	_, err = s.svc.Journey(context.Background(), "8")
	s.ErrorIs(err, storage.ErrNotFound)
	s.repo.AssertNotCalled(s.T(), "GetJourney", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestHistory_ClampsLimitAndPassesTimeout() {
	s.repo.On("ListDelivered", mock.Anything, (*storage.DeliveredCursor)(nil), storage.MaxPageLimit).
		Return(storage.DeliveredPage{}, errors.Wrap(storage.ErrStoreTimeout, "select delivered")).
		Once()

	_, err := s.svc.History(context.Background(), nil, 5000)
	s.ErrorIs(err, storage.ErrStoreTimeout)

	cursor := &storage.DeliveredCursor{At: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), OrderID: "9"}
	s.repo.On("ListDelivered", mock.Anything, cursor, storage.DefaultPageLimit).
		Return(storage.DeliveredPage{Items: []models.DeliveredOrder{{Order: models.Order{ID: "1"}}}}, nil).
		Once()
	page, err := s.svc.History(context.Background(), cursor, 0)
	s.Require().NoError(err)
	s.Len(page.Items, 1)
}

func (s *ServiceSuite) TestEditDelivered_Validates() {
	empty := ""
	err := s.svc.EditDelivered(context.Background(), "1", models.DeliveredEdit{})
	s.ErrorIs(err, ErrInvalidEdit)
	err = s.svc.EditDelivered(context.Background(), "1", models.DeliveredEdit{DeliveredVia: &empty})
	s.ErrorIs(err, ErrInvalidEdit)
	err = s.svc.EditDelivered(context.Background(), "", models.DeliveredEdit{StatusText: &empty})
	s.ErrorIs(err, ErrInvalidEdit)
	s.repo.AssertNotCalled(s.T(), "UpdateDelivered", mock.Anything, mock.Anything, mock.Anything)

	text := "Đã giao (sửa tay)"
	edit := models.DeliveredEdit{StatusText: &text}
	s.repo.On("UpdateDelivered", mock.Anything, "1", edit).Return(nil).Once()
	s.Require().NoError(s.svc.EditDelivered(context.Background(), "1", edit))
}

func (s *ServiceSuite) TestSessions_RejectsUnknownStatus() {
	_, err := s.svc.Sessions(context.Background(), "purged")
	s.Error(err)

	s.repo.On("ListSessionsByStatus", mock.Anything, models.SessionActive).Return([]models.Session{{ID: 1}}, nil).Once()
	out, err := s.svc.Sessions(context.Background(), models.SessionActive)
	s.Require().NoError(err)
	s.Len(out, 1)
}

func (s *ServiceSuite) TestInvalidate_DropsActiveAndJourney() {
	s.cache.On("Delete", mock.Anything, []string{"orders:active", "order:9:journey"}).Return(nil).Once()

	s.svc.Invalidate(context.Background(), events.Event{Kind: events.OrderStatusUpdated, OrderID: "9"})
	s.svc.Invalidate(context.Background(), events.Event{Kind: events.SessionActivated, SessionID: 3})
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestWatch_StopsWhenSubscriptionCloses() {
	deleted := make(chan struct{}, 1)
	s.cache.On("Delete", mock.Anything, []string{"orders:active", "order:5:journey"}).
		Run(func(mock.Arguments) { deleted <- struct{}{} }).
		Return(nil).
		Once()
	bus := events.NewBus()
	sub := bus.Subscribe(4)

	done := make(chan struct{})
	go func() {
		s.svc.Watch(context.Background(), sub)
		close(done)
	}()
	bus.Publish(events.Event{Kind: events.OrderDelivered, OrderID: "5"})

	select {
	case <-deleted:
	case <-time.After(time.Second):
		s.FailNow("cache was not invalidated")
	}
	sub.Unsubscribe()
	<-done
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
