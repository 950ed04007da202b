package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taximeter/internal/domain"
	"taximeter/internal/logger"
	"taximeter/internal/service"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// MeterStreamHandler pushes the live meter of a trip over a websocket.
type MeterStreamHandler struct {
	tripService *service.TripService
	log         *logger.Logger
}

// NewMeterStreamHandler creates a new MeterStreamHandler.
func NewMeterStreamHandler(tripService *service.TripService, log *logger.Logger) *MeterStreamHandler {
	return &MeterStreamHandler{tripService: tripService, log: log}
}

// Stream handles GET /v1/trips/:id/meter/stream. One message is sent per
// tick; the socket closes when the trip ends or the client goes away.
func (h *MeterStreamHandler) Stream(c *gin.Context) {
	tripID := c.Param("id")

	updates, cancel, err := h.tripService.WatchMeter(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithTrip(tripID).WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	if current, err := h.tripService.GetMeter(c.Request.Context(), tripID); err == nil {
		if err := writeSnapshot(conn, current); err != nil {
			return
		}
	}

	closed := make(chan struct{})
	go readLoop(conn, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "trip ended"))
				return
			}
			if err := writeSnapshot(conn, &snapshot); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
func readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeSnapshot(conn *websocket.Conn, snapshot *domain.MeterSnapshot) error {
	data, err := json.Marshal(toMeterResponse(snapshot))
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
