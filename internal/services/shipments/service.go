package shipments

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BearBump/ShipLedger/internal/broker/messages"
	"github.com/BearBump/ShipLedger/internal/cache"
	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error)
	GetShipment(ctx context.Context, tracking string) (*models.Shipment, error)
	ChangeStatus(ctx context.Context, tracking string, to models.Status, note, actor string) (*models.Shipment, error)
	UpdateETA(ctx context.Context, tracking string, eta time.Time, note, actor string) (*models.Shipment, error)
	AddNote(ctx context.Context, tracking string, note, actor string) (*models.Shipment, error)
	ListShipments(ctx context.Context, f models.ListFilter) ([]*models.Shipment, int, error)
	DashboardCounts(ctx context.Context) (map[models.Status]int, error)
	ListEvents(ctx context.Context, tracking string) ([]*models.Event, error)
	RecentEvents(ctx context.Context, limit int) ([]*models.Event, error)
}

type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

const (
	defaultListLimit = 20
	maxListLimit     = 1000 // экспорт забирает всю выборку одной страницей

	defaultActivityLimit = 20
	maxActivityLimit     = 100

	trackingGenRetries = 5
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	producer   Producer
	currentTTL time.Duration
}

// New собирает сервис. cache и producer опциональны (nil отключает
// соответствующую интеграцию) — как и в остальных наших сервисах,
// кэш и брокер работают по принципу лучшего усилия.
func New(repo Repository, c cache.BytesCache, producer Producer, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, producer: producer, currentTTL: currentTTL}
}

func (s *Service) Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	// Первое же невалидное поле — в ошибку, по имени.
	if strings.TrimSpace(in.Origin) == "" {
		return nil, &models.ValidationError{Field: "origin"}
	}
	if strings.TrimSpace(in.Destination) == "" {
		return nil, &models.ValidationError{Field: "destination"}
	}
	if !emailRe.MatchString(in.CustomerEmail) {
		return nil, &models.ValidationError{Field: "customerEmail", Reason: "must look like local@domain.tld"}
	}
	if in.ETA.IsZero() {
		return nil, &models.ValidationError{Field: "eta"}
	}
	if strings.TrimSpace(in.Actor) == "" {
		return nil, &models.ValidationError{Field: "actor"}
	}
	if strings.TrimSpace(in.Note) == "" {
		in.Note = "Shipment created"
	}

	supplied := in.Tracking != ""
	if !supplied {
		in.Tracking = GenerateTracking()
	}

	for attempt := 0; ; attempt++ {
		sh, err := s.repo.CreateShipment(ctx, in)
		if err == nil {
			s.afterMutation(ctx, sh, in.Note, in.Actor)
			return sh, nil
		}
		if !errors.Is(err, models.ErrTrackingTaken) {
			return nil, err
		}
		if supplied {
			return nil, &models.ValidationError{Field: "tracking", Reason: "already in use"}
		}
		if attempt+1 >= trackingGenRetries {
			return nil, errors.Wrap(err, "generate tracking")
		}
		in.Tracking = GenerateTracking()
	}
}

func (s *Service) Get(ctx context.Context, tracking string) (*models.Shipment, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}
	return s.repo.GetShipment(ctx, tracking)
}

// GetPublic — чтение для публичной страницы трекинга, через кэш.
func (s *Service) GetPublic(ctx context.Context, tracking string) (*models.Shipment, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}

	if s.cache != nil && s.currentTTL > 0 {
		b, ok, err := s.cache.Get(ctx, currentKey(tracking))
		if err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}

	sh, err := s.repo.GetShipment(ctx, tracking)
	if err != nil {
		return nil, err
	}
	s.cacheCurrent(ctx, sh)
	return sh, nil
}

func (s *Service) ChangeStatus(ctx context.Context, tracking string, to models.Status, note, actor string) (*models.Shipment, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}
	if !to.Valid() {
		return nil, &models.ValidationError{Field: "status", Reason: "unknown status " + to.String()}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &models.ValidationError{Field: "actor"}
	}
	if strings.TrimSpace(note) == "" {
		note = "Status changed to " + to.String()
	}

	sh, err := s.repo.ChangeStatus(ctx, tracking, to, note, actor)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, sh, note, actor)
	return sh, nil
}

// MarkDelayed — сахар поверх обычного перехода. Таблица переходов
// решает, можно ли: никакого привилегированного обхода.
func (s *Service) MarkDelayed(ctx context.Context, tracking, note, actor string) (*models.Shipment, error) {
	if strings.TrimSpace(note) == "" {
		note = "Shipment marked as delayed"
	}
	return s.ChangeStatus(ctx, tracking, models.StatusDelayed, note, actor)
}

func (s *Service) UpdateETA(ctx context.Context, tracking string, eta time.Time, actor string) (*models.Shipment, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}
	if eta.IsZero() {
		return nil, &models.ValidationError{Field: "eta"}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &models.ValidationError{Field: "actor"}
	}

	note := "ETA updated to " + eta.UTC().Format(time.RFC3339)
	sh, err := s.repo.UpdateETA(ctx, tracking, eta, note, actor)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, sh, note, actor)
	return sh, nil
}

func (s *Service) AddNote(ctx context.Context, tracking, note, actor string) (*models.Shipment, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, &models.ValidationError{Field: "note", Reason: "must not be empty"}
	}
	if strings.TrimSpace(actor) == "" {
		return nil, &models.ValidationError{Field: "actor"}
	}

	sh, err := s.repo.AddNote(ctx, tracking, note, actor)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, sh, note, actor)
	return sh, nil
}

func (s *Service) List(ctx context.Context, f models.ListFilter) ([]*models.Shipment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &models.ValidationError{Field: "status", Reason: "unknown status " + f.Status.String()}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return s.repo.ListShipments(ctx, f)
}

func (s *Service) Events(ctx context.Context, tracking string) ([]*models.Event, error) {
	if tracking == "" {
		return nil, &models.ValidationError{Field: "tracking"}
	}
	return s.repo.ListEvents(ctx, tracking)
}

func (s *Service) DashboardCounts(ctx context.Context) (map[models.Status]int, error) {
	return s.repo.DashboardCounts(ctx)
}

func (s *Service) RecentActivity(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}
	return s.repo.RecentEvents(ctx, limit)
}

// afterMutation обновляет кэш публичного вида и публикует shipment.updated.
// Обе интеграции best-effort: мутация уже зафиксирована, откатывать нечего.
func (s *Service) afterMutation(ctx context.Context, sh *models.Shipment, note, actor string) {
	s.cacheCurrent(ctx, sh)

	if s.producer == nil {
		return
	}
	msg := messages.ShipmentUpdated{
		Tracking:      sh.Tracking,
		Status:        sh.Status.String(),
		Note:          note,
		Actor:         actor,
		CustomerEmail: sh.CustomerEmail,
		ETA:           sh.ETA,
		UpdatedAt:     sh.UpdatedAt,
		DeliveredAt:   sh.DeliveredAt,
	}
	b, _ := json.Marshal(msg)
	if err := s.producer.Publish(ctx, []byte(sh.Tracking), b); err != nil {
		slog.Warn("publish shipment.updated failed", "tracking", sh.Tracking, "err", err)
	}
}

func (s *Service) cacheCurrent(ctx context.Context, sh *models.Shipment) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, _ := json.Marshal(sh)
	if err := s.cache.Set(ctx, currentKey(sh.Tracking), b, s.currentTTL); err != nil {
		slog.Warn("cache shipment failed", "tracking", sh.Tracking, "err", err)
	}
}

func currentKey(tracking string) string {
	return "shipment:" + tracking + ":current"
}

const trackingChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateTracking выдаёт TRK-XXXX-XXXX-XXXX-XXXX из крипто-рандома:
// идентификатор виден клиентам, простым перебором он не угадывается.
func GenerateTracking() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		panic(err) // crypto/rand не должен отказывать
	}

	var b strings.Builder
	b.WriteString("TRK")
	for i, c := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(trackingChars[int(c)%len(trackingChars)])
	}
	return b.String()
}
