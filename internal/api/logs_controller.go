package api

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// serviceNamePattern matches compose service names.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,62}$`)

const defaultStreamTail = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard runs on a different port than the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LogsController streams container logs over SSE and WebSocket.
type LogsController struct {
	streamer LogStreamer
	logger   *logrus.Logger
}

// NewLogsController creates a logs controller.
func NewLogsController(streamer LogStreamer, logger *logrus.Logger) *LogsController {
	return &LogsController{streamer: streamer, logger: logger}
}

func (ctl *LogsController) parseStreamParams(c *gin.Context) (string, int, error) {
	service := c.Param("service")
	if !serviceNamePattern.MatchString(service) {
		return "", 0, fmt.Errorf("invalid service name")
	}

	tail := defaultStreamTail
	if raw := c.Query("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > 5000 {
			return "", 0, fmt.Errorf("invalid tail: %s", raw)
		}
		tail = parsed
	}
	return service, tail, nil
}

// Stream handles GET /api/logs/:service/stream as server-sent events.
// Each log line is one "log" event; a "ping" event every 15 seconds keeps
// proxies from closing the idle connection.
func (ctl *LogsController) Stream(c *gin.Context) {
	service, tail, err := ctl.parseStreamParams(c)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	lines, err := ctl.streamer.StreamServiceLogs(c.Request.Context(), service, tail)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			sse.Encode(w, sse.Event{Event: "log", Data: line}) //nolint:errcheck
			return true
		case <-keepalive.C:
			sse.Encode(w, sse.Event{Event: "ping", Data: "keepalive"}) //nolint:errcheck
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// WebSocket handles GET /api/logs/:service/ws, sending each line as one
// JSON text message.
func (ctl *LogsController) WebSocket(c *gin.Context) {
	service, tail, err := ctl.parseStreamParams(c)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	lines, err := ctl.streamer.StreamServiceLogs(c.Request.Context(), service, tail)
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ctl.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Drain client frames so close handshakes and pings are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := conn.WriteJSON(line); err != nil {
				return
			}
		case <-keepalive.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
