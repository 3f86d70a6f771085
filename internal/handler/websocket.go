package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/wishlist-sync/internal/changefeed"
	"github.com/vyrodovalexey/wishlist-sync/internal/metrics"
	"github.com/vyrodovalexey/wishlist-sync/internal/middleware"
	"github.com/vyrodovalexey/wishlist-sync/internal/model"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	// closeWait bounds how long shutdown waits for a client's close frame.
	closeWait = time.Second
)

// feedClient is one change-feed connection.
type feedClient struct {
	conn   *websocket.Conn
	sub    *changefeed.Subscriber
	user   string
	cancel context.CancelFunc
	// done is closed when the writer has stopped touching conn.
	done      chan struct{}
	closeOnce sync.Once
}

func (c *feedClient) close(logger *zap.Logger) {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			logger.Debug("error closing connection", zap.Error(err))
		}
	})
}

// WebSocketHandler streams store change events to connected clients.
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	feed     *changefeed.Hub
	logger   *zap.Logger
	mu       sync.Mutex
	clients  map[*feedClient]struct{}
}

// NewWebSocketHandler creates a handler publishing the events of feed.
func NewWebSocketHandler(feed *changefeed.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		feed:    feed,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// RegisterRoutes registers the WebSocket routes with the router.
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
}

// HandleWebSocket upgrades the connection and starts streaming changes.
// Every client receives a hello first, then every change of the store.
//
//nolint:contextcheck // the connection outlives the upgrade request
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("change feed upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &feedClient{
		conn: conn,
		// Subscribed before the hello: nothing that happens after the
		// client sees the hello can be missed.
		sub:    h.feed.Subscribe(changefeed.MatchAll),
		user:   middleware.UserFromContext(r.Context()),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.add(c)

	go h.writeLoop(ctx, c)
	go h.readLoop(ctx, c)
}

// readLoop drains client frames so pongs and close frames are processed.
// It owns the connection teardown.
func (h *WebSocketHandler) readLoop(ctx context.Context, c *feedClient) {
	defer func() {
		c.cancel()
		<-c.done
		c.close(h.logger)
		h.remove(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("change feed read error", zap.String("user", c.user), zap.Error(err))
			}
			return
		}
	}
}

// writeLoop forwards feed events to the connection until ctx is done, then
// says goodbye with a close frame.
func (h *WebSocketHandler) writeLoop(ctx context.Context, c *feedClient) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.sub.Unsubscribe()
		close(c.done)
	}()

	if err := h.write(c, model.NewHelloMessage()); err != nil {
		h.logger.Debug("failed to send hello", zap.Error(err))
		c.cancel()
		return
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			h.writeClose(c)
			return
		case event := <-c.sub.Events():
			err = h.write(c, model.NewChangeMessage(event))
		case <-c.sub.Resync():
			h.logger.Debug("change feed client fell behind, requesting resync", zap.String("user", c.user))
			err = h.write(c, model.NewChangeMessage(model.NewResyncEvent()))
		case <-ping.C:
			err = h.writeControl(c, websocket.PingMessage, nil)
		}
		if err != nil {
			h.logger.Debug("change feed write failed", zap.String("user", c.user), zap.Error(err))
			c.cancel()
			return
		}
	}
}

func (h *WebSocketHandler) write(c *feedClient, msg model.WebSocketMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (h *WebSocketHandler) writeControl(c *feedClient, kind int, payload []byte) error {
	return c.conn.WriteControl(kind, payload, time.Now().Add(writeWait))
}

func (h *WebSocketHandler) writeClose(c *feedClient) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down")
	if err := h.writeControl(c, websocket.CloseMessage, msg); err != nil {
		h.logger.Debug("failed to send close message", zap.Error(err))
	}
}

func (h *WebSocketHandler) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.FeedClients.Inc()
	h.logger.Info("change feed client connected",
		zap.String("remote_addr", c.conn.RemoteAddr().String()),
		zap.String("user", c.user),
	)
}

func (h *WebSocketHandler) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		metrics.FeedClients.Dec()
		h.logger.Info("change feed client disconnected",
			zap.String("remote_addr", c.conn.RemoteAddr().String()),
			zap.String("user", c.user),
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAllConnections sends every client a close frame and drops the
// connections. It returns once all of them are gone.
func (h *WebSocketHandler) CloseAllConnections() {
	h.mu.Lock()
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.cancel()
	}

	deadline := time.Now().Add(closeWait)
	for _, c := range clients {
		select {
		case <-c.done:
		case <-time.After(time.Until(deadline)):
		}
		c.close(h.logger)
		h.remove(c)
	}

	h.logger.Info("all change feed connections closed", zap.Int("count", len(clients)))
}
