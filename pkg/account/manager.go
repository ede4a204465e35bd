package account

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ethan/nest-nexus-bridge/pkg/config"
	"github.com/ethan/nest-nexus-bridge/pkg/logger"
)

// refreshLead is how long before the bearer deadline the refresh runs
const refreshLead = 60 * time.Second

// Manager owns the configured connections and their refresh timers
type Manager struct {
	log    *logger.Logger
	client *http.Client

	mu     sync.Mutex
	conns  []*Connection
	timers map[string]*time.Timer
	closed bool
}

// NewManager builds one connection per configured account
func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	m := &Manager{
		log:    log.With("component", "account"),
		client: &http.Client{Timeout: authRequestTimeout},
		timers: make(map[string]*time.Timer),
	}
	for _, acct := range cfg.Accounts {
		m.conns = append(m.conns, NewConnection(acct, cfg.FieldTest))
	}
	return m
}

// Connections returns every managed connection, authorized or not
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Connection(nil), m.conns...)
}

// AuthorizeAll runs the chain for every connection. A failed connection
// stays unauthorized while the others proceed; the first error is returned.
func (m *Manager) AuthorizeAll(ctx context.Context) error {
	var firstErr error
	for _, conn := range m.Connections() {
		if err := m.authorize(ctx, conn); err != nil {
			m.log.Error("connection authorization failed",
				"connection", conn.ID, "kind", string(conn.Kind), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// authorize runs one chain and arms the refresh timer on success
func (m *Manager) authorize(ctx context.Context, conn *Connection) error {
	if err := conn.Authorize(ctx, m.client); err != nil {
		return err
	}

	m.log.Info("connection authorized",
		"connection", conn.ID,
		"kind", string(conn.Kind),
		"user", conn.UserID(),
		"refresh_deadline", conn.RefreshDeadline())

	m.scheduleRefresh(conn)
	return nil
}

// scheduleRefresh arms one timer per connection at deadline minus lead time
func (m *Manager) scheduleRefresh(conn *Connection) {
	wait := time.Until(conn.RefreshDeadline()) - refreshLead
	if wait < time.Second {
		wait = time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if prev, ok := m.timers[conn.ID]; ok {
		prev.Stop()
	}
	m.timers[conn.ID] = time.AfterFunc(wait, func() {
		// The chain is three sequential requests
		ctx, cancel := context.WithTimeout(context.Background(), 3*authRequestTimeout)
		defer cancel()
		if err := m.authorize(ctx, conn); err != nil {
			m.log.Error("token refresh failed", "connection", conn.ID, "error", err)
		}
	})
}

// Close stops all refresh timers
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}
