package shipments_api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipLedger/internal/auth"
	"github.com/BearBump/ShipLedger/internal/cache/rediscache"
	"github.com/BearBump/ShipLedger/internal/models"
	"github.com/BearBump/ShipLedger/internal/services/shipments"
	"github.com/go-chi/chi/v5"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type ShipmentsAPI struct {
	svc  *shipments.Service
	auth *auth.Authenticator

	rl              RateLimiter // nil — публичные ручки без лимита
	publicPerMinute int64
}

func New(svc *shipments.Service, authn *auth.Authenticator, rl RateLimiter, publicPerMinute int64) *ShipmentsAPI {
	if publicPerMinute <= 0 {
		publicPerMinute = 60
	}
	return &ShipmentsAPI{svc: svc, auth: authn, rl: rl, publicPerMinute: publicPerMinute}
}

func (a *ShipmentsAPI) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Post("/api/auth/login", a.login)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(a.requireAuth)
		r.Get("/shipments", a.listShipments)
		r.Post("/shipments", a.createShipment)
		r.Get("/shipments/dashboard-counts", a.dashboardCounts)
		r.Get("/shipments/activity", a.recentActivity)
		r.Patch("/shipments/{tracking}/status", a.changeStatus)
		r.Patch("/shipments/{tracking}/eta", a.updateETA)
		r.Patch("/shipments/{tracking}/note", a.addNote)
		r.Patch("/shipments/{tracking}/delayed", a.markDelayed)
		r.Get("/tracking/{tracking}", a.getShipment)
		r.Get("/tracking/{tracking}/events", a.listEvents)
	})

	r.Route("/api/tracking", func(r chi.Router) {
		r.Use(a.publicRateLimit)
		r.Get("/{tracking}", a.getShipmentPublic)
		r.Get("/{tracking}/events", a.listEventsPublic)
	})

	return r
}

// --- DTO ---

type shipmentJSON struct {
	Tracking      string     `json:"tracking"`
	Status        string     `json:"status"`
	Origin        string     `json:"origin"`
	Destination   string     `json:"destination"`
	CustomerEmail string     `json:"customerEmail"`
	ETA           time.Time  `json:"eta"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	Late          bool       `json:"late"`
}

type eventJSON struct {
	Tracking string    `json:"tracking"`
	Status   string    `json:"status"`
	Note     string    `json:"note"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor"`
}

func toShipmentJSON(sh *models.Shipment) shipmentJSON {
	return shipmentJSON{
		Tracking:      sh.Tracking,
		Status:        sh.Status.String(),
		Origin:        sh.Origin,
		Destination:   sh.Destination,
		CustomerEmail: sh.CustomerEmail,
		ETA:           sh.ETA,
		CreatedAt:     sh.CreatedAt,
		UpdatedAt:     sh.UpdatedAt,
		DeliveredAt:   sh.DeliveredAt,
		Late:          sh.IsLate(time.Now().UTC()),
	}
}

func toEventsJSON(evs []*models.Event) []eventJSON {
	out := make([]eventJSON, 0, len(evs))
	for _, e := range evs {
		out = append(out, eventJSON{
			Tracking: e.Tracking,
			Status:   e.Status.String(),
			Note:     e.Note,
			At:       e.At,
			Actor:    e.Actor,
		})
	}
	return out
}

// --- auth ---

type ctxKey int

const actorKey ctxKey = 0

func (a *ShipmentsAPI) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (a *ShipmentsAPI) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, auth.ErrInvalidToken)
			return
		}
		actor, err := a.auth.Verify(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// actorFrom достаёт доверенный actor: subject проверенного токена,
// а не поле из тела запроса.
func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

func (a *ShipmentsAPI) publicRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rl == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := rediscache.PublicLookupKey(clientIP(r))
		ok, _, err := a.rl.Allow(r.Context(), key, a.publicPerMinute, time.Minute)
		if err != nil {
			// Редис лёг — публичный трекинг важнее лимита.
			slog.Warn("rate limiter unavailable", "err", err)
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- admin handlers ---

func (a *ShipmentsAPI) listShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ListFilter{
		Query:  q.Get("trackingOrEmail"),
		Status: models.Status(q.Get("status")),
	}
	if v := q.Get("from"); v != "" {
		ts, err := parseTime(v)
		if err != nil {
			writeError(w, &models.ValidationError{Field: "from", Reason: "bad timestamp"})
			return
		}
		f.From = &ts
	}
	if v := q.Get("to"); v != "" {
		ts, err := parseTime(v)
		if err != nil {
			writeError(w, &models.ValidationError{Field: "to", Reason: "bad timestamp"})
			return
		}
		f.To = &ts
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))

	items, total, err := a.svc.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]shipmentJSON, 0, len(items))
	for _, sh := range items {
		out = append(out, toShipmentJSON(sh))
	}
	if f.Page < 1 {
		f.Page = 1
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": out,
		"total": total,
		"page":  f.Page,
		"limit": f.Limit,
	})
}

func (a *ShipmentsAPI) createShipment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tracking      string    `json:"tracking"`
		Origin        string    `json:"origin"`
		Destination   string    `json:"destination"`
		CustomerEmail string    `json:"customerEmail"`
		ETA           time.Time `json:"eta"`
		Note          string    `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	sh, err := a.svc.Create(r.Context(), models.ShipmentCreateInput{
		Tracking:      req.Tracking,
		Origin:        req.Origin,
		Destination:   req.Destination,
		CustomerEmail: req.CustomerEmail,
		ETA:           req.ETA,
		Actor:         actorFrom(r.Context()),
		Note:          req.Note,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	sh, err := a.svc.Get(r.Context(), chi.URLParam(r, "tracking"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) listEvents(w http.ResponseWriter, r *http.Request) {
	evs, err := a.svc.Events(r.Context(), chi.URLParam(r, "tracking"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventsJSON(evs))
}

func (a *ShipmentsAPI) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	sh, err := a.svc.ChangeStatus(r.Context(), chi.URLParam(r, "tracking"), models.Status(req.Status), req.Note, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) updateETA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ETA time.Time `json:"eta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "eta", Reason: "bad timestamp"})
		return
	}
	sh, err := a.svc.UpdateETA(r.Context(), chi.URLParam(r, "tracking"), req.ETA, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) addNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	sh, err := a.svc.AddNote(r.Context(), chi.URLParam(r, "tracking"), req.Note, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) markDelayed(w http.ResponseWriter, r *http.Request) {
	// Тело опционально: фронт шлёт PATCH без пейлоада.
	var req struct {
		Note string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	sh, err := a.svc.MarkDelayed(r.Context(), chi.URLParam(r, "tracking"), req.Note, actorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) dashboardCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := a.svc.DashboardCounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[st.String()] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *ShipmentsAPI) recentActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	evs, err := a.svc.RecentActivity(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventsJSON(evs))
}

// --- public handlers ---

func (a *ShipmentsAPI) getShipmentPublic(w http.ResponseWriter, r *http.Request) {
	sh, err := a.svc.GetPublic(r.Context(), chi.URLParam(r, "tracking"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentJSON(sh))
}

func (a *ShipmentsAPI) listEventsPublic(w http.ResponseWriter, r *http.Request) {
	evs, err := a.svc.Events(r.Context(), chi.URLParam(r, "tracking"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventsJSON(evs))
}

// --- helpers ---

func parseTime(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	// Фильтры дат с фронта приходят как YYYY-MM-DD.
	return time.Parse("2006-01-02", v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
		return
	}
	var nf *models.NotFoundError
	if errors.As(err, &nf) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": nf.Error()})
		return
	}
	var terr *models.InvalidTransitionError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": terr.Error(),
			"from":  terr.From.String(),
			"to":    terr.To.String(),
		})
		return
	}
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInvalidToken) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	slog.Error("internal error", "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
