package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flybeeper/region-heatmap/internal/auth"
	"github.com/flybeeper/region-heatmap/internal/interaction"
	"github.com/flybeeper/region-heatmap/internal/metrics"
	"github.com/flybeeper/region-heatmap/internal/view"
	"github.com/flybeeper/region-heatmap/pkg/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	statusPeriod = 500 * time.Millisecond
)

// WebSocketHandler поток состояния представления: снимки состояния взаимодействия
// и статуса загрузки; входящие сообщения - события интерфейса в формате EventRequest.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *view.Hub
	logger   *utils.Logger
}

// Client WebSocket соединение одного представления
type Client struct {
	conn    *websocket.Conn
	view    *view.View
	handler *WebSocketHandler
	logger  *utils.Logger
	// errors ответы на неверные события, отправляются writePump
	errors chan streamMessage
	done   chan struct{}
}

// streamMessage сообщение потока
type streamMessage struct {
	Type  string          `json:"type"` // state, error, expired
	State *view.StateView `json:"state,omitempty"`
	Code  string          `json:"code,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(hub *view.Hub, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		hub:    hub,
		logger: logger.WithField("component", "websocket"),
	}
}

// HandleWebSocket подключает поток к представлению
// GET /ws/v1/views/:id?token=...
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	v, err := h.hub.Get(c.Param("id"))
	if err != nil {
		status, code := errorStatus(err)
		c.JSON(status, gin.H{"code": code, "message": err.Error()})
		return
	}

	token, _ := auth.GetToken(c)
	if token != v.Session().Token() {
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "forbidden",
			"message": "View belongs to another session",
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		metrics.WebSocketErrors.Inc()
		return
	}

	client := &Client{
		conn:    conn,
		view:    v,
		handler: h,
		logger:  h.logger.WithField("view_id", v.ID),
		errors:  make(chan streamMessage, 8),
		done:    make(chan struct{}),
	}

	client.logger.WithField("client_ip", c.ClientIP()).Info("WebSocket client connected")
	metrics.WebSocketConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// readPump принимает события интерфейса
func (c *Client) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
		metrics.WebSocketConnections.Dec()
		c.logger.Debug("WebSocket client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithField("error", err).Error("WebSocket read error")
				metrics.WebSocketErrors.Inc()
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage разбирает и передает событие; результат придет снимком состояния
func (c *Client) handleMessage(message []byte) {
	var req EventRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.reportError("invalid_event", err)
		return
	}
	if req.Type == "ping" {
		return
	}

	e, err := req.Event()
	if err != nil {
		c.reportError("invalid_event", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if _, err := c.view.Dispatch(ctx, e); err != nil {
		_, code := errorStatus(err)
		c.reportError(code, err)
		return
	}

	c.logger.WithField("event", interaction.EventName(e)).Debug("Interaction event received")
}

func (c *Client) reportError(code string, err error) {
	select {
	case c.errors <- streamMessage{Type: "error", Code: code, Error: err.Error()}:
	default:
		c.logger.WithField("code", code).Warn("Dropping stream error, client is slow")
	}
}

// writePump отправляет снимки состояния; статус загрузки проверяется периодически
func (c *Client) writePump() {
	updates, unsubscribe := c.view.Subscribe()
	ping := time.NewTicker(pingPeriod)
	status := time.NewTicker(statusPeriod)
	defer func() {
		unsubscribe()
		ping.Stop()
		status.Stop()
		c.conn.Close()
	}()

	var last view.LoadStatus
	current := c.view.State()

	for {
		select {
		case s, ok := <-updates:
			if !ok {
				// Представление закрыто
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			current = s
			if !c.sendState(current, &last) {
				return
			}

		case <-status.C:
			if loadChanged(last, c.view.Status()) {
				if !c.sendState(current, &last) {
					return
				}
			}

		case msg := <-c.errors:
			if !c.sendJSON(msg, "error") {
				return
			}

		case <-c.view.Session().Done():
			c.sendJSON(streamMessage{Type: "expired", Code: "session_expired"}, "expired")
			c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired"))
			return

		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.WithField("error", err).Error("Ping write error")
				metrics.WebSocketErrors.Inc()
				return
			}
			metrics.WebSocketMessagesOut.WithLabelValues("ping").Inc()

		case <-c.done:
			return
		}
	}
}

// sendState отправляет проекцию состояния и запоминает отправленный статус загрузки
func (c *Client) sendState(s interaction.State, last *view.LoadStatus) bool {
	projected := c.view.Project(s)
	*last = projected.Load
	return c.sendJSON(streamMessage{Type: "state", State: &projected}, "state")
}

func (c *Client) sendJSON(msg streamMessage, kind string) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to marshal stream message")
		return true
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		c.logger.WithField("error", err).Error("WebSocket write error")
		metrics.WebSocketErrors.Inc()
		return false
	}
	metrics.WebSocketMessagesOut.WithLabelValues(kind).Inc()
	return true
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// loadChanged сообщает, что статус загрузки изменился с последней отправки
func loadChanged(prev, next view.LoadStatus) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		prev.Loads != next.Loads ||
		prev.Warning != next.Warning
}
