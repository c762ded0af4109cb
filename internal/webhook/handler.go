package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	errx "github.com/chainlens-core/server/internal/core/error"
	logx "github.com/chainlens-core/server/pkg/logger"
)

const maxBodyBytes = 1 << 20

// API serves the webhook receiver and the events endpoints.
type API struct {
	events EventLog
	now    func() time.Time
	log    zerolog.Logger
}

func NewAPI(events EventLog) *API {
	return &API{events: events, now: time.Now, log: logx.Component("webhook")}
}

// RegisterRoutes mounts the endpoints under /webhooks. /webhooks/{source}
// accepts notifications from a named provider, e.g. /webhooks/nodit.
func (a *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/events", a.ListEvents).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/events/latest", a.LatestEvent).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{source}/latest", a.LatestEvent).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/events", a.Receive).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{source}", a.Receive).Methods(http.MethodPost)
}

// Handler returns a router with only the webhook routes.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	a.RegisterRoutes(r)
	return r
}

func (a *API) Receive(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err == nil && len(body) > maxBodyBytes {
		err = errors.New("request body too large")
	}
	if err == nil && !json.Valid(body) {
		err = errors.New("request body is not valid JSON")
	}
	if err != nil {
		a.log.Error().Err(err).Str("source", source).Msg("Error processing webhook")
		_ = a.events.Append(r.Context(), NewErrorEvent(err, a.now()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": StatusError, "message": err.Error()})
		return
	}

	e := NewEvent(body, a.now())
	if err := a.events.Append(r.Context(), e); err != nil {
		a.log.Error().Err(err).Str("event_id", e.ID).Msg("Failed to store webhook event")
		writeJSON(w, errx.StatusOf(err), map[string]string{"status": StatusError, "message": errx.SystemErrorMessage})
		return
	}
	a.log.Info().Str("event_id", e.ID).Str("event_type", e.EventType).Str("source", source).Msg("Webhook received")
	writeJSON(w, http.StatusOK, map[string]string{"status": StatusSuccess, "message": "Webhook received"})
}

// ListEvents returns events newest first; ?limit=N caps the count.
func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	events, err := a.events.List(r.Context(), limit)
	if err != nil {
		a.log.Error().Err(err).Msg("Error retrieving webhook events")
		http.Error(w, errx.SystemErrorMessage, errx.StatusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// LatestEvent returns the newest event, or null when there is none.
func (a *API) LatestEvent(w http.ResponseWriter, r *http.Request) {
	e, err := a.events.Latest(r.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("Error retrieving latest webhook event")
		http.Error(w, errx.SystemErrorMessage, errx.StatusOf(err))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
