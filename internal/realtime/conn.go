package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pollcast/backend/internal/apperr"
	"github.com/pollcast/backend/internal/models"
)

const (
	joinPrefix     = "join_poll:"
	leavePrefix    = "leave_poll:"
	writeWait      = 10 * time.Second
	fetchTimeout   = 5 * time.Second
	maxMessageSize = 4096
)

// PollFetcher loads the current state of a poll for join snapshots.
type PollFetcher interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
}

// Conn is one live socket. Every frame it writes goes through writeMu.
type Conn struct {
	ID     string
	ws     *websocket.Conn
	sub    *Subscription
	polls  PollFetcher
	logger *zap.Logger

	writeMu sync.Mutex

	interestMu sync.Mutex
	interest   map[uuid.UUID]struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWs handles the WebSocket upgrade and runs the connection until it closes.
func ServeWs(hub *Hub, polls PollFetcher, origins []string, logger *zap.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(origins),
	}
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := &Conn{
			ID:       uuid.NewString(),
			ws:       ws,
			sub:      hub.Subscribe(),
			polls:    polls,
			logger:   logger,
			interest: make(map[uuid.UUID]struct{}),
			done:     make(chan struct{}),
		}
		logger.Debug("websocket connected", zap.String("conn_id", conn.ID))
		conn.run()
		logger.Debug("websocket closed", zap.String("conn_id", conn.ID))
	}
}

func (c *Conn) run() {
	c.wg.Add(2)
	go c.forwardLoop()
	go c.keepaliveLoop()
	c.readLoop()
	c.close()
	c.wg.Wait()
}

// close tears the connection down once: the subscription ends the forward
// loop, done ends the keepalive loop and closing the socket ends the read loop.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
		_ = c.ws.Close()
	})
}

func (c *Conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(PongWait))
	})
	c.ws.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(PongWait))
		if mt != websocket.TextMessage {
			continue
		}
		if err := c.handleText(strings.TrimSpace(string(data))); err != nil {
			c.logger.Debug("websocket write", zap.String("conn_id", c.ID), zap.Error(err))
			return
		}
	}
}

func (c *Conn) handleText(text string) error {
	switch {
	case text == "ping":
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.writeLocked(websocket.TextMessage, []byte("pong"))
	case strings.HasPrefix(text, joinPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(text, joinPrefix))
		if err != nil {
			c.logger.Debug("join with invalid poll id", zap.String("conn_id", c.ID), zap.String("frame", text))
			return nil
		}
		return c.join(id)
	case strings.HasPrefix(text, leavePrefix):
		if id, err := uuid.Parse(strings.TrimPrefix(text, leavePrefix)); err == nil {
			c.interestMu.Lock()
			delete(c.interest, id)
			c.interestMu.Unlock()
		}
		return nil
	default:
		return nil
	}
}

// join sends the current snapshot and then registers interest, all under
// writeMu, so no broadcast for the poll can reach the socket before it.
func (c *Conn) join(id uuid.UUID) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	p, err := c.polls.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			c.logger.Error("fetch poll for join", zap.String("conn_id", c.ID), zap.String("poll_id", id.String()), zap.Error(err))
		}
		return nil
	}
	if err := c.writeJSONLocked(p); err != nil {
		return err
	}
	c.interestMu.Lock()
	c.interest[id] = struct{}{}
	c.interestMu.Unlock()
	return nil
}

func (c *Conn) interested(id uuid.UUID) bool {
	c.interestMu.Lock()
	defer c.interestMu.Unlock()
	_, ok := c.interest[id]
	return ok
}

func (c *Conn) forwardLoop() {
	defer c.wg.Done()
	defer c.close()
	for p := range c.sub.Updates() {
		if err := c.forward(p); err != nil {
			return
		}
	}
}

func (c *Conn) forward(p *models.Poll) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.interested(p.ID) {
		return nil
	}
	return c.writeJSONLocked(p)
}

func (c *Conn) keepaliveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.writeLocked(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// writeLocked and writeJSONLocked require writeMu.
func (c *Conn) writeLocked(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) writeJSONLocked(v interface{}) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}
