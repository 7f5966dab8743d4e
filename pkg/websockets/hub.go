package websockets

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/chris/cash-settlement/pkg/notify"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections by default for local development.
		return true
	},
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Hub holds the WebSocket connections of the local server, keyed by account.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*conn]struct{}
	logger  *zap.Logger
}

var (
	_ Publisher     = (*Hub)(nil)
	_ notify.Sender = (*Hub)(nil)
)

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]map[*conn]struct{}), logger: logger}
}

func (h *Hub) add(accountID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[accountID] == nil {
		h.clients[accountID] = make(map[*conn]struct{})
	}
	h.clients[accountID][c] = struct{}{}
}

func (h *Hub) remove(accountID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[accountID], c)
	if len(h.clients[accountID]) == 0 {
		delete(h.clients, accountID)
	}
}

// Connections returns the number of open connections of an account.
func (h *Hub) Connections(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[accountID])
}

// ServeHTTP upgrades a request carrying ?account_id= and keeps the connection
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	c := &conn{ws: ws}
	h.add(accountID, c)
	h.logger.Info("client connected locally", zap.String("account_id", accountID))

	defer func() {
		h.remove(accountID, c)
		_ = ws.Close()
		h.logger.Info("client disconnected locally", zap.String("account_id", accountID))
	}()

	// Clients never send anything meaningful; reading detects the close.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("unexpected close error", zap.Error(err))
			}
			return
		}
	}
}

// Publish writes message to every local connection of the account.
func (h *Hub) Publish(_ context.Context, accountID string, message Message) error {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.clients[accountID]))
	for c := range h.clients[accountID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(message); err != nil {
			h.logger.Warn("failed to write to connection", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	return nil
}

func (h *Hub) Send(ctx context.Context, _ models.NotificationChannel, msg notify.Message) error {
	return h.Publish(ctx, msg.AccountID, NewTransactionUpdate(msg))
}
