package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"unified_portfolio/internal/logger"
	"unified_portfolio/internal/portfolio"
	"unified_portfolio/internal/state"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamQueueSize  = 8
)

// StreamHandler pushes every published aggregate to websocket clients.
type StreamHandler struct {
	projector    *state.Projector
	baseCurrency string
	upgrader     websocket.Upgrader
	log          *logger.Entry
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(deps *Dependencies) *StreamHandler {
	return &StreamHandler{
		projector:    deps.Projector,
		baseCurrency: deps.BaseCurrency,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: deps.logger().WithComponent("stream"),
	}
}

// Serve upgrades the connection, sends the current aggregate and then one
// message per publish. Delivery to one client never blocks publishing.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := make(chan *portfolio.AggregatePortfolio, 1)
	exec := state.NewSerialExecutor(streamQueueSize)
	defer exec.Close()

	cancel := h.projector.Subscribe(state.ObserverFunc(func(p *portfolio.AggregatePortfolio) {
		// Keep only the newest pending aggregate.
		select {
		case updates <- p:
		default:
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- p:
			default:
			}
		}
	}), exec)
	defer cancel()

	closed := make(chan struct{})
	go h.readLoop(conn, closed)

	current := h.projector.Latest()
	if current == nil {
		current = portfolio.Empty(h.baseCurrency)
	}
	if err := h.write(conn, current); err != nil {
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case p := <-updates:
			if err := h.write(conn, p); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) write(conn *websocket.Conn, p *portfolio.AggregatePortfolio) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(p)
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *StreamHandler) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
