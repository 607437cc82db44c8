package shipments_api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ShipLedger/internal/auth"
	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/BearBump/ShipLedger/internal/services/shipments"
	"github.com/BearBump/ShipLedger/internal/storage/memshipment"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "admin@company.com"
	testPassword = "s3cret"
)

type fixedLimiter struct {
	allow bool
	calls int
}

func (f *fixedLimiter) Allow(_ context.Context, _ string, _ int64, _ time.Duration) (bool, int64, error) {
	f.calls++
	return f.allow, 1, nil
}

func newTestServer(t *testing.T, rl RateLimiter) (*httptest.Server, string) {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	require.NoError(t, err)
	authn := auth.New("test-key", time.Hour, testEmail, hash)

	svc := shipments.New(memshipment.New(), nil, nil, 0)
	srv := httptest.NewServer(New(svc, authn, rl, 60).Router())
	t.Cleanup(srv.Close)

	token := loginToken(t, srv)
	return srv, token
}

func loginToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": testEmail, "password": testPassword})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["token"])
	return body["token"]
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, payload any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createShipment(t *testing.T, srv *httptest.Server, token string) shipmentJSON {
	t.Helper()
	resp := doJSON(t, srv, http.MethodPost, "/api/admin/shipments", token, map[string]any{
		"origin":        "Berlin",
		"destination":   "Madrid",
		"customerEmail": "jane@example.com",
		"eta":           time.Now().UTC().Add(72 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[shipmentJSON](t, resp)
}

func TestLogin_BadCredentials(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
		map[string]string{"email": testEmail, "password": "wrong"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdmin_RequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/shipments", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments", "bogus.token.here", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndGetShipment(t *testing.T) {
	srv, token := newTestServer(t, nil)

	sh := createShipment(t, srv, token)
	require.Equal(t, "CREATED", sh.Status)
	require.Regexp(t, `^TRK(-[A-Z0-9]{4}){4}$`, sh.Tracking)
	require.False(t, sh.Late)

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/tracking/"+sh.Tracking, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[shipmentJSON](t, resp)
	require.Equal(t, sh.Tracking, got.Tracking)

	// Actor берётся из токена, а не из тела.
	resp = doJSON(t, srv, http.MethodGet, "/api/admin/tracking/"+sh.Tracking+"/events", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	evs := decode[[]eventJSON](t, resp)
	require.Len(t, evs, 1)
	require.Equal(t, testEmail, evs[0].Actor)
	require.Equal(t, "Shipment created", evs[0].Note)
}

func TestCreateShipment_Validation(t *testing.T) {
	srv, token := newTestServer(t, nil)

	resp := doJSON(t, srv, http.MethodPost, "/api/admin/shipments", token, map[string]any{
		"origin":        "",
		"destination":   "Madrid",
		"customerEmail": "jane@example.com",
		"eta":           time.Now().UTC().Add(time.Hour),
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "origin", body["field"])
}

func TestChangeStatus_Conflict(t *testing.T) {
	srv, token := newTestServer(t, nil)
	sh := createShipment(t, srv, token)

	resp := doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/status", token,
		map[string]string{"status": "DELIVERED"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "CREATED", body["from"])
	require.Equal(t, "DELIVERED", body["to"])

	resp = doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/status", token,
		map[string]string{"status": "IN_TRANSIT"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[shipmentJSON](t, resp)
	require.Equal(t, "IN_TRANSIT", got.Status)
}

func TestChangeStatus_UnknownStatus(t *testing.T) {
	srv, token := newTestServer(t, nil)
	sh := createShipment(t, srv, token)

	resp := doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/status", token,
		map[string]string{"status": "TELEPORTED"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMarkDelayed_NoBody(t *testing.T) {
	srv, token := newTestServer(t, nil)
	sh := createShipment(t, srv, token)

	resp := doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/status", token,
		map[string]string{"status": "IN_TRANSIT"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/delayed", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[shipmentJSON](t, resp)
	require.Equal(t, "DELAYED", got.Status)
}

func TestUpdateETAAndNote(t *testing.T) {
	srv, token := newTestServer(t, nil)
	sh := createShipment(t, srv, token)

	eta := time.Now().UTC().Add(240 * time.Hour).Truncate(time.Second)
	resp := doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/eta", token,
		map[string]any{"eta": eta})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[shipmentJSON](t, resp)
	require.True(t, got.ETA.Equal(eta))

	resp = doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/note", token,
		map[string]string{"note": "Customs cleared"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/note", token,
		map[string]string{"note": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.Equal(t, "note", body["field"])
}

func TestGetShipment_NotFound(t *testing.T) {
	srv, token := newTestServer(t, nil)

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/tracking/TRK-0000-0000-0000-0000", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListShipments_FiltersAndPaging(t *testing.T) {
	srv, token := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		createShipment(t, srv, token)
	}

	resp := doJSON(t, srv, http.MethodGet, "/api/admin/shipments?page=1&limit=2", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Items []shipmentJSON `json:"items"`
		Total int            `json:"total"`
		Page  int            `json:"page"`
	}](t, resp)
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Items, 2)
	require.Equal(t, 1, body.Page)

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments?status=DELIVERED", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	empty := decode[struct {
		Items []shipmentJSON `json:"items"`
		Total int            `json:"total"`
	}](t, resp)
	require.Equal(t, 0, empty.Total)

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments?status=LOST", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments?from=not-a-date", token, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDashboardCountsAndActivity(t *testing.T) {
	srv, token := newTestServer(t, nil)
	sh := createShipment(t, srv, token)
	createShipment(t, srv, token)

	resp := doJSON(t, srv, http.MethodPatch, "/api/admin/shipments/"+sh.Tracking+"/status", token,
		map[string]string{"status": "IN_TRANSIT"})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments/dashboard-counts", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := decode[map[string]int](t, resp)
	require.Equal(t, 1, counts["CREATED"])
	require.Equal(t, 1, counts["IN_TRANSIT"])
	require.Equal(t, 0, counts["DELIVERED"])
	require.Len(t, counts, len(models.AllStatuses))

	resp = doJSON(t, srv, http.MethodGet, "/api/admin/shipments/activity?limit=1", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	evs := decode[[]eventJSON](t, resp)
	require.Len(t, evs, 1)
	require.Equal(t, sh.Tracking, evs[0].Tracking)
	require.Equal(t, "IN_TRANSIT", evs[0].Status)
}

func TestPublicTracking_NoAuth(t *testing.T) {
	srv, token := newTestServer(t, &fixedLimiter{allow: true})
	sh := createShipment(t, srv, token)

	resp := doJSON(t, srv, http.MethodGet, "/api/tracking/"+sh.Tracking, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[shipmentJSON](t, resp)
	require.Equal(t, sh.Tracking, got.Tracking)

	resp = doJSON(t, srv, http.MethodGet, "/api/tracking/"+sh.Tracking+"/events", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	evs := decode[[]eventJSON](t, resp)
	require.Len(t, evs, 1)
}

func TestPublicTracking_RateLimited(t *testing.T) {
	rl := &fixedLimiter{allow: false}
	srv, _ := newTestServer(t, rl)

	resp := doJSON(t, srv, http.MethodGet, "/api/tracking/TRK-0000-0000-0000-0000", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, 1, rl.calls)
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("path %s", path))
	}
}
