// Package memstore is an in-memory storage.Store used by tests and by the
// CLI when no database is configured.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/storage"
	"github.com/pkg/errors"
)

type Store struct {
	mu sync.Mutex

	nextSessionID uint64
	sessions      map[uint64]models.Session
	orders        map[string]models.Order
	delivered     map[string]models.DeliveredOrder
	journeys      map[string]models.TrackingJourney

	writes int64
	now    func() time.Time

	// Fail, when set, is consulted before every operation; a non-nil
	// return is handed back to the caller unchanged.
	Fail func(op string) error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions:  make(map[uint64]models.Session),
		orders:    make(map[string]models.Order),
		delivered: make(map[string]models.DeliveredOrder),
		journeys:  make(map[string]models.TrackingJourney),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Writes returns the number of mutating operations that changed state.
func (s *Store) Writes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) check(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *Store) CreateSession(_ context.Context, credential string) (*models.Session, error) {
	if err := s.check("CreateSession"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.Credential == credential {
			return nil, errors.Wrap(storage.ErrDuplicate, "create session")
		}
	}
	s.nextSessionID++
	now := s.now()
	sess := models.Session{
		ID:         s.nextSessionID,
		Credential: credential,
		Status:     models.SessionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.sessions[sess.ID] = sess
	s.writes++
	return &sess, nil
}

func (s *Store) GetSession(_ context.Context, id uint64) (*models.Session, error) {
	if err := s.check("GetSession"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *Store) ListSessionsByStatus(_ context.Context, status models.SessionStatus) ([]models.Session, error) {
	if err := s.check("ListSessionsByStatus"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0)
	for _, sess := range s.sessions {
		if sess.Status == status {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateSessionStatus(_ context.Context, id uint64, status models.SessionStatus) error {
	if err := s.check("UpdateSessionStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return errors.Wrap(storage.ErrNotFound, "update session status")
	}
	if sess.Status == status {
		return nil
	}
	sess.Status = status
	sess.UpdatedAt = s.now()
	s.sessions[id] = sess
	s.writes++
	return nil
}

func (s *Store) DeleteSession(_ context.Context, id uint64) error {
	if err := s.check("DeleteSession"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return errors.Wrap(storage.ErrNotFound, "delete session")
	}
	for _, o := range s.orders {
		if o.SessionID == id {
			return errors.New("delete session: session still owns orders")
		}
	}
	delete(s.sessions, id)
	s.writes++
	return nil
}

func (s *Store) DisableSessionAndPurgeOrders(_ context.Context, id uint64) ([]models.Order, error) {
	if err := s.check("DisableSessionAndPurgeOrders"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.Wrap(storage.ErrNotFound, "disable session")
	}
	var purged []models.Order
	for oid, o := range s.orders {
		if o.SessionID == id {
			purged = append(purged, o)
			delete(s.orders, oid)
		}
	}
	sort.Slice(purged, func(i, j int) bool { return purged[i].ID < purged[j].ID })
	for _, o := range purged {
		delete(s.journeys, o.TrackingCode)
	}
	if sess.Status != models.SessionDisabled || len(purged) > 0 {
		sess.Status = models.SessionDisabled
		sess.UpdatedAt = s.now()
		s.sessions[id] = sess
		s.writes++
	}
	return purged, nil
}

func (s *Store) PurgeSessionIfOrphaned(_ context.Context, id uint64) (bool, error) {
	if err := s.check("PurgeSessionIfOrphaned"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status == models.SessionPending {
		return false, nil
	}
	for _, o := range s.orders {
		if o.SessionID == id {
			return false, nil
		}
	}
	delete(s.sessions, id)
	s.writes++
	return true, nil
}

func (s *Store) CountSessionsByStatus(_ context.Context) (models.SessionCounts, error) {
	if err := s.check("CountSessionsByStatus"); err != nil {
		return models.SessionCounts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.SessionCounts
	for _, sess := range s.sessions {
		switch sess.Status {
		case models.SessionPending:
			c.Pending++
		case models.SessionActive:
			c.Active++
		case models.SessionDisabled:
			c.Disabled++
		}
	}
	c.Delivered = int64(len(s.delivered))
	return c, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*models.Order, error) {
	if err := s.check("GetOrder"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) selectOrders(keep func(models.Order) bool) []models.Order {
	out := make([]models.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListOrdersBySession(_ context.Context, sessionID uint64) ([]models.Order, error) {
	if err := s.check("ListOrdersBySession"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(func(o models.Order) bool { return o.SessionID == sessionID }), nil
}

func (s *Store) ListOrdersBySessions(_ context.Context, sessionIDs []uint64) ([]models.Order, error) {
	if err := s.check("ListOrdersBySessions"); err != nil {
		return nil, err
	}
	want := make(map[uint64]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(func(o models.Order) bool {
		_, ok := want[o.SessionID]
		return ok
	}), nil
}

func (s *Store) ListOrdersByMethod(_ context.Context, methods ...models.TrackingMethod) ([]models.Order, error) {
	if err := s.check("ListOrdersByMethod"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(func(o models.Order) bool {
		for _, m := range methods {
			if o.Method == m {
				return true
			}
		}
		return false
	}), nil
}

func (s *Store) ListOrdersWithoutCode(_ context.Context) ([]models.Order, error) {
	if err := s.check("ListOrdersWithoutCode"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectOrders(func(o models.Order) bool { return !models.HasTrackingCode(o.TrackingCode) }), nil
}

func (s *Store) ListActiveOrders(_ context.Context) ([]models.Order, error) {
	if err := s.check("ListActiveOrders"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.selectOrders(func(models.Order) bool { return true })
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) CountOrdersBySession(_ context.Context, sessionID uint64) (int, error) {
	if err := s.check("CountOrdersBySession"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertOrder(_ context.Context, o models.Order) error {
	if err := s.check("UpsertOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[o.SessionID]; !ok {
		return errors.Wrapf(storage.ErrNotFound, "upsert order %s: session %d", o.ID, o.SessionID)
	}
	now := s.now()
	if cur, ok := s.orders[o.ID]; ok {
		if err := storage.CheckMethodTransition(cur.Method, o.Method); err != nil {
			return errors.Wrapf(err, "upsert order %s", o.ID)
		}
		o.CreatedAt = cur.CreatedAt
	} else {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.ID] = o
	s.writes++
	return nil
}

func (s *Store) ApplyStatusUpdate(_ context.Context, orderID string, upd models.StatusUpdate) error {
	if err := s.check("ApplyStatusUpdate"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return errors.Wrap(storage.ErrNotFound, "apply status update")
	}
	o.StatusText = upd.StatusText
	o.StatusAt = upd.StatusAt
	o.CurrentLocation = upd.CurrentLocation
	o.NextLocation = upd.NextLocation
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *Store) AssignTracking(_ context.Context, orderID string, a models.TrackingAssignment) error {
	if err := s.check("AssignTracking"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return errors.Wrap(storage.ErrNotFound, "assign tracking")
	}
	if err := storage.CheckMethodTransition(o.Method, a.Method); err != nil {
		return errors.Wrapf(err, "assign tracking %s", orderID)
	}
	o.TrackingCode = a.TrackingCode
	o.Carrier = a.Carrier
	o.Method = a.Method
	o.UpdatedAt = s.now()
	s.orders[orderID] = o
	s.writes++
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id string) error {
	if err := s.check("DeleteOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return nil
	}
	delete(s.orders, id)
	s.writes++
	return nil
}

func (s *Store) ArchiveDelivered(_ context.Context, d models.DeliveredOrder) error {
	if err := s.check("ArchiveDelivered"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delivered[d.ID]; !ok {
		if d.DeliveredAt.IsZero() {
			d.DeliveredAt = s.now()
		}
		s.delivered[d.ID] = d
	}
	delete(s.orders, d.ID)
	if models.HasTrackingCode(d.TrackingCode) {
		delete(s.journeys, d.TrackingCode)
	}
	s.writes++
	return nil
}

func (s *Store) GetDelivered(_ context.Context, orderID string) (*models.DeliveredOrder, error) {
	if err := s.check("GetDelivered"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delivered[orderID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) ListDelivered(_ context.Context, cursor *storage.DeliveredCursor, limit int) (storage.DeliveredPage, error) {
	if err := s.check("ListDelivered"); err != nil {
		return storage.DeliveredPage{}, err
	}
	limit = storage.ClampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]models.DeliveredOrder, 0, len(s.delivered))
	for _, d := range s.delivered {
		if cursor != nil && !cursor.Before(d.DeliveredAt, d.ID) {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DeliveredAt.Equal(all[j].DeliveredAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].DeliveredAt.After(all[j].DeliveredAt)
	})

	page := storage.DeliveredPage{Items: all}
	if len(all) > limit {
		page.Items = all[:limit]
		page.NextCursor = storage.CursorAfter(page.Items[limit-1])
	}
	return page, nil
}

func (s *Store) UpdateDelivered(_ context.Context, orderID string, edit models.DeliveredEdit) error {
	if err := s.check("UpdateDelivered"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delivered[orderID]
	if !ok {
		return errors.Wrap(storage.ErrNotFound, "update delivered")
	}
	if edit.StatusText != nil {
		d.StatusText = *edit.StatusText
	}
	if edit.TrackingCode != nil {
		d.TrackingCode = strings.TrimSpace(*edit.TrackingCode)
	}
	if edit.DeliveredVia != nil {
		d.DeliveredVia = *edit.DeliveredVia
	}
	d.UpdatedAt = s.now()
	s.delivered[orderID] = d
	s.writes++
	return nil
}

func (s *Store) DeleteDelivered(_ context.Context, orderID string) error {
	if err := s.check("DeleteDelivered"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delivered[orderID]; !ok {
		return errors.Wrap(storage.ErrNotFound, "delete delivered")
	}
	delete(s.delivered, orderID)
	s.writes++
	return nil
}

func (s *Store) UpsertJourney(_ context.Context, j models.TrackingJourney) error {
	if err := s.check("UpsertJourney"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j.UpdatedAt = s.now()
	s.journeys[j.TrackingCode] = j
	s.writes++
	return nil
}

func (s *Store) GetJourney(_ context.Context, trackingCode string) (*models.TrackingJourney, error) {
	if err := s.check("GetJourney"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journeys[trackingCode]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (s *Store) DeleteJourney(_ context.Context, trackingCode string) error {
	if err := s.check("DeleteJourney"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.journeys[trackingCode]; !ok {
		return nil
	}
	delete(s.journeys, trackingCode)
	s.writes++
	return nil
}
