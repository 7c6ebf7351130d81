package apigateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/disconnec/FeiSync/internal/events"
)

// pingInterval keeps the websocket connection alive through idle proxies
// between events.
const pingInterval = 30 * time.Second

// subscribeEvents upgrades the request to a websocket and streams every
// events.Bus event to the client as JSON, one message per event
// (architecture.md §4.7's subscribe_events command).
func (g *Gateway) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	ch, unsubscribe := g.bus.Subscribe(ctx)
	defer unsubscribe()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return

		case ev, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}

			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return wsjson.Write(writeCtx, conn, eventMessage{Kind: string(ev.Kind), Key: ev.Key, Payload: ev.Payload})
}

type eventMessage struct {
	Kind    string         `json:"kind"`
	Key     string         `json:"key"`
	Payload map[string]any `json:"payload,omitempty"`
}
