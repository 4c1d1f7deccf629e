// internal/httpapi/api.go
//
// Ops HTTP API.
//
// Context
// -------
// A small read-only surface for dashboards and on-call:
//
//	GET /healthz                 – storage round-trip, no auth
//	GET /metrics                 – Prometheus, no auth
//	GET /api/stats               – dashboard numbers
//	GET /api/admins              – admins with marked-visit counts
//	GET /api/leaderboard         – ?month=YYYY-MM&limit=N&active=1
//	GET /api/segments            – every menu audience with its size
//	GET /api/segments/{spec}     – one audience, ids included
//	GET /api/cards/{number}      – one card with its current discount
//
// Everything under /api sits behind the bearer token.  Nothing here writes.
//
// Notes
// -----
//   • Card numbers are zero-padded the same way staff input is.
//   • Errors are JSON {"error": "..."} with the matching status.

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/loungebot/internal/cards"
	"github.com/yanizio/loungebot/internal/leaderboard"
	"github.com/yanizio/loungebot/internal/loyalty"
	"github.com/yanizio/loungebot/internal/middleware"
	"github.com/yanizio/loungebot/internal/segment"
	"github.com/yanizio/loungebot/internal/timeutil"
)

// Options configures the API.
type Options struct {
	Token  string
	Source string
}

// API serves the ops endpoints.
type API struct {
	svc  *loyalty.Service
	seg  *segment.Engine
	opts Options
	log  *zap.Logger
}

// New builds an API.
func New(svc *loyalty.Service, seg *segment.Engine, opts Options) *API {
	return &API{svc: svc, seg: seg, opts: opts, log: zap.L().Named("httpapi")}
}

// Routes returns the full router, middleware included.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.AccessLog)
	r.Use(middleware.Security)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.RequireToken(a.opts.Token))
		api.Get("/stats", a.stats)
		api.Get("/admins", a.admins)
		api.Get("/leaderboard", a.leaderboard)
		api.Get("/segments", a.segments)
		api.Get("/segments/{spec}", a.segment)
		api.Get("/cards/{number}", a.card)
	})
	return r
}

/*──────────────────────────── handlers ────────────────────────────────────*/

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	if _, err := a.svc.Events.ActiveSubscribersCount(); err != nil {
		a.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	if _, err := a.svc.Cards.TierCounts(); err != nil {
		a.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	st, err := a.svc.Stats()
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type adminRow struct {
	Username string `json:"username"`
	UserID   int64  `json:"user_id,omitempty"`
	Label    string `json:"label"`
	Today    int    `json:"today"`
	Week     int    `json:"week"`
	Month    int    `json:"month"`
	Total    int    `json:"total"`
}

func (a *API) admins(w http.ResponseWriter, _ *http.Request) {
	rows, err := a.svc.Admins()
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]adminRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, adminRow{
			Username: r.Username,
			UserID:   r.UserID,
			Label:    r.Label(),
			Today:    r.Marked.Today,
			Week:     r.Marked.Week,
			Month:    r.Marked.Month,
			Total:    r.Marked.Total,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type boardResponse struct {
	Month   string              `json:"month"`
	Entries []leaderboard.Entry `json:"entries"`
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	board := a.svc.Board
	m := board.CurrentMonth()
	if raw := r.URL.Query().Get("month"); raw != "" {
		t, err := time.Parse("2006-01", raw)
		if err != nil {
			a.fail(w, http.StatusBadRequest, errors.New("month must be YYYY-MM"))
			return
		}
		m = timeutil.Month{Year: t.Year(), Month: t.Month()}
	}
	limit := len(board.Awards())
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.fail(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	active, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	entries, err := board.MonthlyLeaderboard(m.Year, m.Month, leaderboard.Query{
		Source:     a.opts.Source,
		Limit:      limit,
		ActiveOnly: active,
	})
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	writeJSON(w, http.StatusOK, boardResponse{Month: m.String(), Entries: entries})
}

func (a *API) segments(w http.ResponseWriter, _ *http.Request) {
	rows, err := a.seg.Counts()
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type segmentResponse struct {
	Spec    string  `json:"spec"`
	Label   string  `json:"label"`
	Size    int     `json:"size"`
	UserIDs []int64 `json:"user_ids"`
}

func (a *API) segment(w http.ResponseWriter, r *http.Request) {
	spec, err := segment.ParseSpec(chi.URLParam(r, "spec"))
	if err != nil {
		a.fail(w, http.StatusBadRequest, err)
		return
	}
	label, ids, err := a.seg.TargetsFor(spec)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, segmentResponse{Spec: spec.String(), Label: label, Size: len(ids), UserIDs: ids})
}

type cardResponse struct {
	cards.Card
	Bonus int `json:"bonus"`
	Total int `json:"total_discount"`
}

func (a *API) card(w http.ResponseWriter, r *http.Request) {
	c, ok, err := a.svc.Cards.FindByNumber(chi.URLParam(r, "number"))
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		a.fail(w, http.StatusNotFound, loyalty.ErrCardNotFound)
		return
	}
	total, bonus, err := a.svc.Board.TotalDiscount(c.UserID, c.Discount)
	if err != nil {
		a.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cardResponse{Card: c, Bonus: bonus, Total: total})
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func (a *API) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Named("httpapi").Warn("encode response", zap.Error(err))
	}
}
