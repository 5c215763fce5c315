package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ParcelSync/internal/broker/messages"
	"github.com/BearBump/ParcelSync/internal/events"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

// ForwardingSuite drives bus events through the Forwarder into a Producer
// backed by a mocked writer.
type ForwardingSuite struct {
	suite.Suite
	wm  *writerMock
	bus *events.Bus
	fwd *events.Forwarder
}

func TestForwardingSuite(t *testing.T) {
	suite.Run(t, new(ForwardingSuite))
}

func (s *ForwardingSuite) SetupTest() {
	s.wm = &writerMock{}
	s.bus = events.NewBus()
	s.fwd = events.NewForwarder(s.bus, newProducerWithWriter(s.wm), "parcelsync.events").WithRetry(3, 0)
}

func (s *ForwardingSuite) run() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.fwd.Run(ctx)
	}()
	s.Require().Eventually(func() bool { return s.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	return func() {
		cancel()
		<-done
	}
}

func (s *ForwardingSuite) TestSessionEventKeyedBySession() {
	written := make(chan kafka.Message, 1)
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { written <- args.Get(1).([]kafka.Message)[0] }).
		Return(nil).
		Once()

	stop := s.run()
	defer stop()
	s.bus.Publish(events.Event{Kind: events.SessionPurged, SessionID: 7})

	var msg kafka.Message
	s.Require().Eventually(func() bool {
		select {
		case msg = <-written:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	s.Require().Equal("parcelsync.events", msg.Topic)
	s.Require().Equal("session:7", string(msg.Key))
	var got messages.Event
	s.Require().NoError(json.Unmarshal(msg.Value, &got))
	s.Require().Equal("session_purged", got.Kind)
	s.Require().NotEmpty(got.ID)
	s.Require().False(got.At.IsZero())
}

func (s *ForwardingSuite) TestRetriesUntilBrokerAccepts() {
	written := make(chan struct{}, 1)
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available")).Twice()
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { written <- struct{}{} }).
		Return(nil).
		Once()

	stop := s.run()
	s.bus.Publish(events.Event{Kind: events.OrderDelivered, OrderID: "o1", Data: map[string]any{"via": "SPX"}})

	select {
	case <-written:
	case <-time.After(time.Second):
		s.FailNow("event was not forwarded")
	}
	stop()
	s.wm.AssertNumberOfCalls(s.T(), "WriteMessages", 3)
}

func (s *ForwardingSuite) TestPublishErrorWrapped() {
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()

	err := newProducerWithWriter(s.wm).Publish(context.Background(), "parcelsync.events", []byte("k"), []byte("v"))
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}
