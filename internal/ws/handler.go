package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/hub"
	"github.com/DoyleJ11/hive-online/internal/lobby"
	"github.com/DoyleJ11/hive-online/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 16
)

// Handler upgrades GET /ws/{alias} into a relay participant connection.
// The relay must already be provisioned.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		alias := chi.URLParam(r, "alias")
		if alias == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}

		lb := h.Get(r.Context(), alias)
		if lb == nil {
			http.Error(w, "relay not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Clients connect from any origin.
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan []byte, outboxSize)
		reply := make(chan string, 1)
		if !lb.Send(lobby.Join{Outbox: out, Reply: reply}) {
			conn.Close(websocket.StatusGoingAway, "relay recycled")
			return
		}
		var id string
		select {
		case id = <-reply:
		case <-lb.Done():
			conn.Close(websocket.StatusGoingAway, "relay recycled")
			return
		}
		log := log.With(zap.String("room", alias), zap.String("participant", id))
		defer lb.Send(lobby.Leave{ID: id})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for frame := range out {
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, frame)
				cancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
			// Outbox closed: dropped as slow, or the relay shut down.
			conn.Close(websocket.StatusGoingAway, "relay closed")
		}()

		// Reader loop. The steady-state exchange has no read timeout.
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.Error(err))
				}
				return
			}
			if typ != websocket.MessageText || !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
				continue
			}

			var env types.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				log.Debug("dropping malformed frame", zap.Error(err))
				continue
			}
			if env.State == nil {
				continue
			}
			if !lb.Send(lobby.FromClient{ID: id, State: env.State}) {
				return
			}
		}
	}
}
