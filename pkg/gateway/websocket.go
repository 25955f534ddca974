package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"

	"github.com/ebot1234/var-coordinator/pkg/bus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connSender serializes writes to a *websocket.Conn so concurrent bus
// broadcasts and this connection's own reply writes never race — gorilla's
// Conn permits only one writer at a time.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSender) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// handleWebsocket upgrades the request and drives a single operator
// connection until it closes. Each connection registers a bus.Client and
// unregisters it on exit, mirroring how a connection-managed pub/sub hub
// ties socket lifetime to subscription lifetime.
func (g *Gateway) handleWebsocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sender := &connSender{conn: conn}
	client := g.bus.NewClient(sender)
	defer g.bus.RemoveClient(client)

	log := slog.With("component", "gateway", "client_id", client.ID)
	log.Info("operator connected")
	defer log.Info("operator disconnected")

	for {
		var msg bus.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return nil
		}

		switch msg.Type {
		case bus.MessageTypeSubscribe:
			initial := g.bus.HandleSubscribe(client, msg.EventTypes)
			reply := bus.ServerMessage{
				Type:        bus.MessageTypeSubscribe,
				InitialData: initial,
				RequestID:   msg.RequestID,
			}
			if err := sender.WriteJSON(reply); err != nil {
				log.Warn("failed to write subscribe reply", "error", err)
				return nil
			}

		case bus.MessageTypeUnsubscribe:
			unsubscribed := g.bus.HandleUnsubscribe(client, msg.EventTypes)
			reply := bus.ServerMessage{
				Type:                   bus.MessageTypeUnsubscribe,
				UnsubscribedEventTypes: unsubscribed,
				RequestID:              msg.RequestID,
			}
			if err := sender.WriteJSON(reply); err != nil {
				log.Warn("failed to write unsubscribe reply", "error", err)
				return nil
			}

		case bus.MessageTypeCommand:
			g.bus.HandleCommand(msg.Command, msg.Data)

		default:
			log.Warn("unknown message type, dropping", "type", msg.Type)
		}
	}
}
