package shipments

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/BearBump/ShipLedger/internal/storage/memshipment"
	"github.com/stretchr/testify/require"
)

// Сквозные сценарии: сервис поверх настоящего (in-memory) репозитория.

func TestFlow_CreateThenDeliver(t *testing.T) {
	s := New(memshipment.New(), newFakeCache(), &fakeProducer{}, 10*time.Minute)
	ctx := context.Background()

	sh, err := s.Create(ctx, validCreateInput())
	require.NoError(t, err)
	require.Equal(t, models.StatusCreated, sh.Status)

	evs, err := s.Events(ctx, sh.Tracking)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "Shipment created", evs[0].Note)

	// Прямо в DELIVERED нельзя.
	_, err = s.ChangeStatus(ctx, sh.Tracking, models.StatusDelivered, "", "admin")
	var terr *models.InvalidTransitionError
	require.ErrorAs(t, err, &terr)

	for _, to := range []models.Status{models.StatusInTransit, models.StatusOutForDelivery, models.StatusDelivered} {
		sh, err = s.ChangeStatus(ctx, sh.Tracking, to, "", "admin")
		require.NoError(t, err)
	}
	require.NotNil(t, sh.DeliveredAt)
	require.Equal(t, sh.UpdatedAt, *sh.DeliveredAt)

	evs, err = s.Events(ctx, sh.Tracking)
	require.NoError(t, err)
	require.Len(t, evs, 4)

	// Свёртка таймлайна воспроизводит текущий статус.
	require.Equal(t, sh.Status, evs[len(evs)-1].Status)
}

func TestFlow_DelayedShipmentIsLate(t *testing.T) {
	s := New(memshipment.New(), nil, nil, 0)
	ctx := context.Background()

	in := validCreateInput()
	in.ETA = time.Now().UTC().Add(-1 * time.Hour) // уже просрочен
	sh, err := s.Create(ctx, in)
	require.NoError(t, err)
	require.True(t, sh.IsLate(time.Now().UTC()))

	_, err = s.ChangeStatus(ctx, sh.Tracking, models.StatusInTransit, "", "admin")
	require.NoError(t, err)
	sh, err = s.MarkDelayed(ctx, sh.Tracking, "", "admin")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelayed, sh.Status)
	require.True(t, sh.IsLate(time.Now().UTC()))

	// Отмена гасит "опоздание" независимо от ETA.
	sh, err = s.ChangeStatus(ctx, sh.Tracking, models.StatusCancelled, "", "admin")
	require.NoError(t, err)
	require.False(t, sh.IsLate(time.Now().UTC()))
}

func TestFlow_MarkDelayedRespectsTable(t *testing.T) {
	s := New(memshipment.New(), nil, nil, 0)
	ctx := context.Background()

	sh, err := s.Create(ctx, validCreateInput())
	require.NoError(t, err)

	// CREATED -> DELAYED запрещён таблицей, и сахар это не обходит.
	_, err = s.MarkDelayed(ctx, sh.Tracking, "", "admin")
	var terr *models.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, models.StatusCreated, terr.From)
	require.Equal(t, models.StatusDelayed, terr.To)
}

func TestFlow_RecentActivityAcrossShipments(t *testing.T) {
	s := New(memshipment.New(), nil, nil, 0)
	ctx := context.Background()

	a, err := s.Create(ctx, validCreateInput())
	require.NoError(t, err)
	b, err := s.Create(ctx, validCreateInput())
	require.NoError(t, err)
	_, err = s.ChangeStatus(ctx, a.Tracking, models.StatusInTransit, "", "admin")
	require.NoError(t, err)

	evs, err := s.RecentActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, a.Tracking, evs[0].Tracking)
	require.Equal(t, models.StatusInTransit, evs[0].Status)
	_ = b
}
