package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/Sternrassler/hotel-cache-proxy/pkg/fetch"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/hotels"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/logging"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/metrics"
	"github.com/Sternrassler/hotel-cache-proxy/pkg/ratelimit"
)

// pinger is a dependency checked by /ready.
type pinger struct {
	name string
	ping func(ctx context.Context) error
}

// quotaReader returns the last provider quota seen by any instance.
// ratelimit.Tracker satisfies it.
type quotaReader interface {
	GetState(ctx context.Context) (*ratelimit.QuotaState, error)
}

// api holds what the HTTP handlers need.
type api struct {
	getter     hotels.Getter
	catalog    *hotels.Catalog
	aggregator *hotels.Aggregator
	checks     []pinger
	quota      quotaReader
	logger     zerolog.Logger
}

// readiness is the /ready body. Quota is informational and never affects
// the status code.
type readiness struct {
	Status string                `json:"status"`
	Checks map[string]string     `json:"checks"`
	Quota  *ratelimit.QuotaState `json:"quota,omitempty"`
}

func newRouter(a *api) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(logging.Middleware(a.logger))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", a.readyHandler).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	data := r.PathPrefix("/api/v1/data").Subrouter()
	data.HandleFunc("/hotel_data", a.hotelDataHandler).Methods(http.MethodGet)
	data.HandleFunc("/{category}", a.categoryHandler).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *api) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := readiness{Status: "ready", Checks: make(map[string]string, len(a.checks))}
	for _, c := range a.checks {
		if err := c.ping(ctx); err != nil {
			body.Checks[c.name] = err.Error()
			body.Status = "unavailable"
			continue
		}
		body.Checks[c.name] = "ok"
	}

	if a.quota != nil {
		state, err := a.quota.GetState(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to read provider quota")
		} else if state.Known {
			body.Quota = state
		}
	}

	code := http.StatusOK
	if body.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (a *api) categoryHandler(w http.ResponseWriter, r *http.Request) {
	category := hotels.Category(mux.Vars(r)["category"])

	req, err := a.catalog.Build(category, r.URL.Query())
	if err != nil {
		a.writeError(w, err)
		return
	}

	res, err := a.getter.GetOrFetch(r.Context(), req)
	if err != nil {
		a.writeError(w, err)
		return
	}

	w.Header().Set("X-Cache-Source", string(res.Source))
	writeRaw(w, http.StatusOK, res.Payload)
}

func (a *api) hotelDataHandler(w http.ResponseWriter, r *http.Request) {
	hotelID := int64(hotels.DefaultHotelID)
	if raw := r.URL.Query().Get("hotel_id"); raw != "" {
		id, err := cast.ToInt64E(raw)
		if err != nil {
			a.writeError(w, &hotels.ParamError{Name: "hotel_id", Value: raw, Err: err})
			return
		}
		hotelID = id
	}

	agg, err := a.aggregator.HotelData(r.Context(), hotelID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// writeError is the only place pipeline errors become HTTP responses.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var (
		fe *fetch.Error
		pe *hotels.ParamError
	)
	switch {
	case errors.As(err, &fe) && fe.Kind == fetch.KindUpstream:
		// Provider status and body pass through unchanged.
		writeRaw(w, fe.HTTPStatus(), fe.Body)
	case errors.As(err, &fe):
		a.logger.Error().Err(err).Str("error_class", string(fe.Kind)).Msg("Request failed")
		detail := fe.Error()
		if fe.Err != nil {
			detail = fe.Err.Error()
		}
		writeJSON(w, fe.HTTPStatus(), map[string]string{"detail": detail})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": pe.Error()})
	case errors.Is(err, hotels.ErrUnknownCategory):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
	default:
		a.logger.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	if json.Valid(body) {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
