package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	log "github.com/mlld-lang/mlld-sub001/internal/log"
	reqid "github.com/mlld-lang/mlld-sub001/internal/reqid"
)

const wsReadTimeout = 120 * time.Second

func (h *Handler) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(h.opt.CORS, origin)
		}
	}
	return u
}

// serveWebSocket handles one connection. Dispatch messages run one at a
// time in arrival order; effects are written as they are produced.
func (h *Handler) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) int {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return http.StatusBadRequest
	}
	defer conn.Close()
	log.Debug("websocket connected", "remote", conn.RemoteAddr().String())

	// the request timeout applies per dispatch, not to the connection
	connCtx := context.WithoutCancel(ctx)
	ctx = h.outgoingMetadata(connCtx, r)

	var mu sync.Mutex
	send := func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(m); err != nil {
			log.Debug("websocket write failed", "err", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "err", err)
			}
			return http.StatusSwitchingProtocols
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		switch msg.Type {
		case TypePing:
			send(Message{Type: TypePong})
		case TypeDispatch:
			var req DispatchRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				send(Message{Type: TypeError, Payload: ErrorPayload{Message: "invalid dispatch payload", Kind: "parse"}})
				continue
			}
			p, perr := req.plan()
			if perr != nil {
				send(Message{Type: TypeError, Payload: perr})
				continue
			}
			h.dispatchOne(ctx, p, req.Variables, send)
		default:
			send(Message{Type: TypeError, Payload: ErrorPayload{Message: "unknown message type: " + msg.Type, Kind: "parse"}})
		}
	}
}

func (h *Handler) dispatchOne(ctx context.Context, p *plan, vars map[string]any, send func(Message)) {
	if h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, rid := reqid.NewContext(ctx)
	log.Debug("websocket dispatch", "pipeline", rid, "stages", p.String())
	h.run(ctx, p, vars, send)
}
