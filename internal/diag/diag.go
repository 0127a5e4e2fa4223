// Package diag serves read-mostly introspection endpoints for a running host: the
// registry listing, bus statistics, mounted fragments and Prometheus metrics.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/GoCodeAlone/fragments"
	"github.com/GoCodeAlone/fragments/eventbus"
	"github.com/GoCodeAlone/fragments/fragment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxEventBody caps the payload accepted by the emit endpoint.
const maxEventBody = 1 << 20

// ServiceLister is satisfied by *fragments.Registry.
type ServiceLister interface {
	ListServices() []fragments.ServiceInfo
}

// EventBus is the part of *eventbus.Bus the endpoints use.
type EventBus interface {
	Stats() eventbus.Stats
	Emit(ctx context.Context, eventType string, data any, opts ...eventbus.EmitOption) (eventbus.EmitResult, error)
}

// FragmentLister is satisfied by *fragment.Lifecycle.
type FragmentLister interface {
	Mounted() []fragment.MountedFragment
}

// Server holds the sources the endpoints read from. Any of them may be nil, in which
// case the matching routes are not mounted.
type Server struct {
	Services  ServiceLister
	Bus       EventBus
	Fragments FragmentLister
	Gatherer  prometheus.Gatherer
	Logger    fragments.Logger
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.Services != nil {
		r.Route("/services", func(r chi.Router) {
			r.Get("/", s.listServices)
			r.Get("/{name}", s.getService)
		})
	}
	if s.Bus != nil {
		r.Route("/events", func(r chi.Router) {
			r.Get("/stats", s.eventStats)
			r.Post("/{type}", s.emitEvent)
		})
	}
	if s.Fragments != nil {
		r.Get("/fragments", s.listFragments)
	}
	if s.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

type healthResponse struct {
	Status string   `json:"status"`
	Failed []string `json:"failed,omitempty"`
}

// health reports 503 while any service is in the error state.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.Services != nil {
		for _, info := range s.Services.ListServices() {
			if info.Status == fragments.StatusError {
				resp.Failed = append(resp.Failed, info.Name)
			}
		}
	}
	code := http.StatusOK
	if len(resp.Failed) > 0 {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Services.ListServices())
}

func (s *Server) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, info := range s.Services.ListServices() {
		if info.Name == name {
			s.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	http.Error(w, "service not registered: "+name, http.StatusNotFound)
}

func (s *Server) eventStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Bus.Stats())
}

type emitResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Cancelled   bool   `json:"cancelled"`
	CancelledBy string `json:"cancelledBy,omitempty"`
	Rejected    bool   `json:"rejected"`
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
}

// emitEvent publishes the request body, decoded as JSON, as the payload of an event.
// An empty body emits a nil payload.
func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "type")

	var data any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err := dec.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	res, err := s.Bus.Emit(r.Context(), eventType, data,
		eventbus.WithEventSource("fragments/diag"),
		eventbus.WithCorrelationID(middleware.GetReqID(r.Context())),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusAccepted, emitResponse{
		ID:          res.Event.ID,
		Type:        res.Event.Type,
		Cancelled:   res.Cancelled,
		CancelledBy: res.CancelledBy,
		Rejected:    res.Rejected,
		Delivered:   res.Delivered,
		Failed:      res.Failed,
		Skipped:     res.Skipped,
	})
}

func (s *Server) listFragments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Fragments.Mounted())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && s.Logger != nil {
		s.Logger.Warn("Failed to write diagnostics response", "error", err)
	}
}
