// Package memshipment — репозиторий отправлений в памяти. Семантика
// идентична pgshipment: те же ошибки, тот же порядок, та же
// атомарность "состояние + событие". Используется в тестах и в режиме
// storage: memory для локальных демо.
package memshipment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ShipLedger/internal/models"
)

type Storage struct {
	mu        sync.RWMutex
	shipments map[string]*models.Shipment
	events    []*models.Event
	nextID    uint64

	// Мутации одного отправления сериализуются своим мьютексом:
	// смена статуса и заметка на одном треке не перемешиваются.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New() *Storage {
	return &Storage{
		shipments: make(map[string]*models.Shipment),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *Storage) keyLock(tracking string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[tracking]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tracking] = l
	}
	return l
}

func cloneShipment(sh *models.Shipment) *models.Shipment {
	cp := *sh
	if sh.DeliveredAt != nil {
		d := *sh.DeliveredAt
		cp.DeliveredAt = &d
	}
	return &cp
}

func (s *Storage) appendEventLocked(tracking string, status models.Status, note string, at time.Time, actor string) {
	s.nextID++
	s.events = append(s.events, &models.Event{
		ID:       s.nextID,
		Tracking: tracking,
		Status:   status,
		Note:     note,
		At:       at,
		Actor:    actor,
	})
}

func (s *Storage) CreateShipment(_ context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	now := time.Now().UTC()

	l := s.keyLock(in.Tracking)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shipments[in.Tracking]; ok {
		return nil, models.ErrTrackingTaken
	}

	sh := &models.Shipment{
		Tracking:      in.Tracking,
		Status:        models.StatusCreated,
		Origin:        in.Origin,
		Destination:   in.Destination,
		CustomerEmail: in.CustomerEmail,
		ETA:           in.ETA.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.shipments[in.Tracking] = sh
	s.appendEventLocked(in.Tracking, models.StatusCreated, in.Note, now, in.Actor)
	return cloneShipment(sh), nil
}

func (s *Storage) GetShipment(_ context.Context, tracking string) (*models.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[tracking]
	if !ok {
		return nil, &models.NotFoundError{Tracking: tracking}
	}
	return cloneShipment(sh), nil
}

// mutate выполняет apply под замком трека и публикует состояние
// вместе с событием атомарно: читатели не видят частичной мутации.
func (s *Storage) mutate(tracking string, apply func(sh *models.Shipment, now time.Time) (note string, evStatus models.Status, err error), actor string) (*models.Shipment, error) {
	now := time.Now().UTC()

	l := s.keyLock(tracking)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.shipments[tracking]
	if !ok {
		return nil, &models.NotFoundError{Tracking: tracking}
	}

	work := cloneShipment(sh)
	note, evStatus, err := apply(work, now)
	if err != nil {
		return nil, err
	}
	work.UpdatedAt = now

	s.shipments[tracking] = work
	s.appendEventLocked(tracking, evStatus, note, now, actor)
	return cloneShipment(work), nil
}

func (s *Storage) ChangeStatus(_ context.Context, tracking string, to models.Status, note, actor string) (*models.Shipment, error) {
	return s.mutate(tracking, func(sh *models.Shipment, now time.Time) (string, models.Status, error) {
		if !models.CanTransition(sh.Status, to) {
			return "", "", &models.InvalidTransitionError{From: sh.Status, To: to}
		}
		sh.Status = to
		if to == models.StatusDelivered && sh.DeliveredAt == nil {
			sh.DeliveredAt = &now
		}
		return note, to, nil
	}, actor)
}

func (s *Storage) UpdateETA(_ context.Context, tracking string, eta time.Time, note, actor string) (*models.Shipment, error) {
	return s.mutate(tracking, func(sh *models.Shipment, _ time.Time) (string, models.Status, error) {
		sh.ETA = eta.UTC()
		return note, sh.Status, nil
	}, actor)
}

func (s *Storage) AddNote(_ context.Context, tracking string, note, actor string) (*models.Shipment, error) {
	return s.mutate(tracking, func(sh *models.Shipment, _ time.Time) (string, models.Status, error) {
		return note, sh.Status, nil
	}, actor)
}

func (s *Storage) ListShipments(_ context.Context, f models.ListFilter) ([]*models.Shipment, int, error) {
	s.mu.RLock()
	var matched []*models.Shipment
	q := strings.ToLower(f.Query)
	for _, sh := range s.shipments {
		if q != "" &&
			!strings.Contains(strings.ToLower(sh.Tracking), q) &&
			!strings.Contains(strings.ToLower(sh.CustomerEmail), q) {
			continue
		}
		if f.Status != "" && sh.Status != f.Status {
			continue
		}
		if f.From != nil && sh.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && sh.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, cloneShipment(sh))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].Tracking < matched[j].Tracking
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []*models.Shipment{}, total, nil
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Storage) DashboardCounts(_ context.Context) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.Status]int, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		out[st] = 0
	}
	for _, sh := range s.shipments {
		out[sh.Status]++
	}
	return out, nil
}

func (s *Storage) ListEvents(_ context.Context, tracking string) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.shipments[tracking]; !ok {
		return nil, &models.NotFoundError{Tracking: tracking}
	}

	var out []*models.Event
	for _, e := range s.events {
		if e.Tracking == tracking {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Storage) RecentEvents(_ context.Context, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	all := make([]*models.Event, len(s.events))
	for i, e := range s.events {
		cp := *e
		all[i] = &cp
	}
	s.mu.RUnlock()

	// at DESC, при равных — позже вставленное (больший id) первым.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].At.Equal(all[j].At) {
			return all[i].At.After(all[j].At)
		}
		return all[i].ID > all[j].ID
	})
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
