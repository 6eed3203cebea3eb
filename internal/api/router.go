package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/clients", s.handleListClients)
		r.Get("/devices", s.handleListDevices)
	})

	return r
}

// handleHealth returns the daemon status and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// clientView is the JSON shape for one presence client.
type clientView struct {
	MAC       string `json:"mac"`
	Hostname  string `json:"hostname,omitempty"`
	IP        string `json:"ip,omitempty"`
	Signal    int    `json:"signal,omitempty"`
	Home      bool   `json:"home"`
	FirstSeen string `json:"first_seen,omitempty"`
	LastSeen  string `json:"last_seen"`
}

// handleListClients returns all known presence clients. Live scan state is
// merged over the persisted history so home/away reflects the latest scan
// even for clients first seen before this process started.
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil && s.clients == nil {
		writeNotFound(w, "presence bridge is not enabled")
		return
	}

	views := make(map[string]clientView)

	if s.clients != nil {
		records, err := s.clients.GetAll(r.Context())
		if err != nil {
			s.logger.Error("listing presence clients", "error", err)
			writeInternalError(w, "failed to read client history")
			return
		}
		for _, rec := range records {
			views[rec.MAC] = clientView{
				MAC:       rec.MAC,
				Hostname:  rec.Hostname,
				IP:        rec.IP,
				Signal:    rec.LastSignal,
				FirstSeen: rec.FirstSeen.Format(time.RFC3339),
				LastSeen:  rec.LastSeen.Format(time.RFC3339),
			}
		}
	}

	if s.presence != nil {
		for _, client := range s.presence.Clients() {
			view := views[client.MAC]
			view.MAC = client.MAC
			if client.Hostname != "" {
				view.Hostname = client.Hostname
			}
			if client.IP != "" {
				view.IP = client.IP
			}
			view.Signal = client.Signal
			view.Home = client.Home
			view.LastSeen = client.LastSeen.Format(time.RFC3339)
			views[client.MAC] = view
		}
	}

	list := make([]clientView, 0, len(views))
	for _, view := range views {
		list = append(list, view)
	}
	sortClientViews(list)

	writeJSON(w, http.StatusOK, map[string]any{
		"clients": list,
		"count":   len(list),
	})
}

// handleListDevices returns the latest published state of every Xiaomi device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	if s.devices == nil {
		writeNotFound(w, "xiaomi bridge is not enabled")
		return
	}

	states := s.devices.States()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": states,
		"count":   len(states),
	})
}

// sortClientViews orders clients home-first, then by MAC for stable output.
func sortClientViews(list []clientView) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Home != list[j].Home {
			return list[i].Home
		}
		return list[i].MAC < list[j].MAC
	})
}
