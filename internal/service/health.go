package service

import (
	"net/http"
	"time"

	"github.com/collabmate/collabmate/db/models"
	"github.com/dustin/go-humanize"
)

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

func (s *Service) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "CollabMate backend"})
}

// healthzHandler answers as soon as the listener is bound, whatever the
// store is doing.
func (s *Service) healthzHandler(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) readyzHandler(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	state := s.storeState()
	status := http.StatusOK
	if state != models.StoreConnected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"store": state.String()})
}

type statusResponse struct {
	Status      string    `json:"status"`
	Store       string    `json:"store"`
	StoreSince  time.Time `json:"storeSince"`
	Attempts    int       `json:"storeAttempts"`
	LastError   string    `json:"storeLastError,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	Uptime      string    `json:"uptime"`
	StartedAgo  string    `json:"startedAgo"`
	Rooms       int       `json:"rooms"`
	Connections int       `json:"connections"`
}

func (s *Service) statusHandler(w http.ResponseWriter, r *http.Request) {
	noCache(w)
	resp := statusResponse{
		Status:      "OK",
		Store:       models.StoreDisconnected.String(),
		StartedAt:   s.startedAt,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		StartedAgo:  humanize.Time(s.startedAt),
		Connections: s.connectionCount(),
	}
	if s.store != nil {
		st := s.store.Status()
		resp.Store = st.State.String()
		resp.StoreSince = st.Since
		resp.Attempts = st.Attempts
		resp.LastError = st.LastError
	}
	if s.hub != nil {
		resp.Rooms = s.hub.RoomCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeMessage(w, http.StatusNotFound, "Not found")
}
