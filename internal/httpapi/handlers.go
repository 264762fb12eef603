package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/lobby"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
	"github.com/DoyleJ11/hive-online/pkg/types"
)

const (
	stateRunning   = 1
	stateConnected = 2

	defaultRoom = "testgame"
)

// Provision handles POST /workers: {url, options:{alias}} -> {url}.
func Provision(h *hub.Hub, publicURL string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ProvisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		alias := strings.TrimSpace(req.Options.Alias)
		if alias == "" {
			writeError(w, http.StatusBadRequest, "missing alias")
			return
		}

		if lb := h.Ensure(r.Context(), alias); lb == nil {
			writeError(w, http.StatusServiceUnavailable, "relay unavailable")
			return
		}
		log.Debug("provisioned", zap.String("room", alias), zap.String("program", req.URL))

		writeJSON(w, http.StatusOK, types.WorkerResponse{
			URL: baseURL(r, publicURL) + "/workers/" + url.PathEscape(alias),
		})
	}
}

// RelayRequest handles POST /workers/{alias}. A relay that is not running
// answers with a 404-shaped error so callers re-provision.
func RelayRequest(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "alias")
		lb := h.Get(r.Context(), alias)
		if lb == nil {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}

		var req types.WorkerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		reply := make(chan lobby.View, 1)
		if !lb.Send(lobby.GetState{Reply: reply}) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		var view lobby.View
		select {
		case view = <-reply:
		case <-lb.Done():
			writeError(w, http.StatusNotFound, "worker not found")
			return
		case <-r.Context().Done():
			return
		}

		status := types.RelayStatus{
			ServerState:  stateRunning,
			Participants: view.Participants,
			Version:      view.Version,
		}
		if len(view.Participants) > 0 {
			status.ServerState = stateConnected
		}
		msg, err := json.Marshal(status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.WorkerResponse{Message: msg})
	}
}

// Gateway handles /api/worker?room=: it resolves the room's duplex endpoint
// through a supervisor, provisioning the relay when needed.
func Gateway(workers *supervisor.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = defaultRoom
		}

		ws, err := workers.Get(room).Endpoint(r.Context())
		if err != nil {
			log.Warn("gateway resolve failed", zap.String("room", room), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, types.GatewayResponse{
				Error: &types.WorkerError{Message: err.Error()},
			})
			return
		}
		writeJSON(w, http.StatusOK, types.GatewayResponse{Ready: true, WS: ws})
	}
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []string, 1)
		select {
		case h.Inbox() <- hub.ListLobbies{Reply: reply}:
		case <-r.Context().Done():
			return
		}
		select {
		case rooms := <-reply:
			writeJSON(w, http.StatusOK, struct {
				OK    bool `json:"ok"`
				Rooms int  `json:"rooms"`
			}{OK: true, Rooms: len(rooms)})
		case <-r.Context().Done():
		}
	}
}

func baseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.WorkerResponse{
		Error: &types.WorkerError{Message: message, Status: status},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
