package notifier

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipLedger/internal/broker/messages"
	"github.com/stretchr/testify/require"
)

func msg(tracking, status, email string) messages.ShipmentUpdated {
	return messages.ShipmentUpdated{
		Tracking:      tracking,
		Status:        status,
		Note:          "note",
		Actor:         "admin@company.com",
		CustomerEmail: email,
		ETA:           time.Now().UTC().Add(24 * time.Hour),
		UpdatedAt:     time.Now().UTC(),
	}
}

func TestHandle_Notifies(t *testing.T) {
	var buf bytes.Buffer
	n := New(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Handle(msg("TRK-AAAA-AAAA-AAAA-AAAA", "IN_TRANSIT", "jane@example.com")))

	out := buf.String()
	require.Contains(t, out, "notification sent")
	require.Contains(t, out, "jane@example.com")
	require.Contains(t, out, "TRK-AAAA-AAAA-AAAA-AAAA")

	s := n.Stats()
	require.Equal(t, uint64(1), s.Processed)
	require.Equal(t, uint64(1), s.Notified)
	require.Equal(t, uint64(0), s.Skipped)
	require.Equal(t, "TRK-AAAA-AAAA-AAAA-AAAA", s.LastTracking)
	require.False(t, s.LastAt.IsZero())
}

func TestHandle_SkipsWithoutEmail(t *testing.T) {
	var buf bytes.Buffer
	n := New(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Handle(msg("TRK-BBBB-BBBB-BBBB-BBBB", "DELIVERED", "")))

	require.Contains(t, buf.String(), "without customer email")
	s := n.Stats()
	require.Equal(t, uint64(1), s.Processed)
	require.Equal(t, uint64(0), s.Notified)
	require.Equal(t, uint64(1), s.Skipped)
}

func TestSubjectPerStatus(t *testing.T) {
	cases := map[string]string{
		"DELIVERED":  "has been delivered",
		"DELAYED":    "is delayed",
		"CANCELLED":  "was cancelled",
		"IN_TRANSIT": "Update on your shipment",
	}
	for status, want := range cases {
		require.Contains(t, subjectFor(msg("TRK-X", status, "a@b.c")), want, status)
	}
}

func TestHandle_Concurrent(t *testing.T) {
	n := New(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = n.Handle(msg("TRK-CCCC-CCCC-CCCC-CCCC", "IN_TRANSIT", "jane@example.com"))
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(50), n.Stats().Processed)
}
