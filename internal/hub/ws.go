package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashita-ai/warecell/internal/ctxutil"
	"github.com/ashita-ai/warecell/internal/model"
)

// writeTimeout bounds a single frame write to a slow observer.
const writeTimeout = 5 * time.Second

// maxInboundBytes caps observer control messages.
const maxInboundBytes = 4 * 1024

// Controller applies the control requests observers may send.
type Controller interface {
	SetStrategy(ctx context.Context, strategy string) (model.StrategyResult, error)
}

// HandleWS upgrades the request and streams events to the new observer
// until either side closes.
func (h *Hub) HandleWS(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The observer stream outlives the server's write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		var opts *websocket.AcceptOptions
		if len(h.cfg.OriginPatterns) > 0 {
			opts = &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns}
		}
		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			h.logger.Warn("hub: websocket accept failed", "error", err)
			return
		}
		conn.SetReadLimit(maxInboundBytes)

		o := h.Subscribe()
		ctx, cancel := context.WithCancel(ctxutil.WithSurface(r.Context(), ctxutil.SurfaceWS))
		defer func() {
			cancel()
			h.Unsubscribe(o)
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		go h.writeLoop(ctx, cancel, conn, o)
		h.readLoop(ctx, conn, o, ctrl)
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, o *Observer) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-o.Events():
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, msg)
			wcancel()
			if err != nil {
				h.logger.Debug("hub: write failed", "observer_id", o.ID, "error", err)
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, o *Observer, ctrl Controller) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				h.logger.Debug("hub: read ended", "observer_id", o.ID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.dispatch(ctx, o, ctrl, data)
	}
}

// dispatch handles one inbound control message. Replies and errors go to
// the sending observer only; a strategy change is broadcast by the state
// store like any other mutation.
func (h *Hub) dispatch(ctx context.Context, o *Observer, ctrl Controller, data []byte) {
	var msg model.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.direct(o, model.EventError, model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: "invalid JSON message"})
		return
	}
	msg, err := msg.Normalize()
	if err != nil {
		h.direct(o, model.EventError, model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: err.Error()})
		return
	}

	switch msg.Type {
	case model.ClientRequestSnapshot:
		h.Resync(o)
	case model.ClientSetStrategy:
		if ctrl == nil {
			return
		}
		if _, err := ctrl.SetStrategy(ctx, msg.Strategy); err != nil {
			code := model.ErrCodeInternalError
			if errors.Is(err, model.ErrInvalidCommand) {
				code = model.ErrCodeInvalidCommand
			}
			h.direct(o, model.EventError, model.ErrorDetail{Code: code, Message: err.Error()})
		}
	}
}
