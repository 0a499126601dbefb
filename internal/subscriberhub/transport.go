package subscriberhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ServeWS upgrades r to a WebSocket connection, registers a Subscriber,
// and runs its read/write loops until the connection closes. Grounded on
// the teacher's MarketStatusWebSocket Connect/readMessages pair, adapted
// from an outbound client connection to an inbound server-accepted one.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard is typically same-origin/dev; TLS terminates upstream in production
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.Join(nil)
	defer h.Leave(sub.ID)
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	done := ctx.Done()
	go h.writeLoop(ctx, conn, sub)
	h.readLoop(ctx, cancel, conn, sub)
	<-done
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}
		default:
		}

		ev, ok := sub.Next(ctx.Done())
		if !ok {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			h.log.Error().Err(err).Msg("marshal event for subscriber")
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeWait)
		err = conn.Write(wctx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *Subscriber) {
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.log.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("subscriber read loop ended")
			}
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.log.Debug().Err(err).Msg("malformed subscriber rpc frame, dropped")
			continue
		}
		ack := h.handleRPC(req)
		ackBytes, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, writeWait)
		_ = conn.Write(wctx, websocket.MessageText, ackBytes)
		wcancel()
	}
}
