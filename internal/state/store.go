// Package state holds the engine's persisted state: bank connections per
// token, payment-key links and reconciliation cursors. Each concern sits
// behind a narrow store interface with in-memory and Postgres bindings.
package state

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Connection status machine: none -> pending -> connected. There is no
// transition back; a repeated success event only refreshes the account id.
const (
	StatusPending   = "pending"
	StatusConnected = "connected"
)

// Connection is the per-token linkage to a bank item.
type Connection struct {
	Status       string    `json:"status"`
	Network      string    `json:"network"`
	ConnectToken string    `json:"connectToken"`
	ConnectURL   string    `json:"connectUrl"`
	ExpiresAt    time.Time `json:"expiresAt"`
	AccountID    string    `json:"accountId"`
	ItemID       string    `json:"itemId"`
}

// ConnectionStore persists connections keyed by token address.
type ConnectionStore interface {
	Get(ctx context.Context, token string) (*Connection, error)
	Save(ctx context.Context, token string, conn Connection) error
	// FindByItemID resolves the reverse index; item ids are unique per
	// token at connection-creation time.
	FindByItemID(ctx context.Context, itemID string) (string, *Connection, error)
	// FindByConnectToken covers aggregators that echo the connect token
	// instead of the item id in their first success event.
	FindByConnectToken(ctx context.Context, connectToken string) (string, *Connection, error)
	List(ctx context.Context) (map[string]Connection, error)
}

// LinkStore maps (token, payment key) to a destination wallet. Re-linking
// overwrites.
type LinkStore interface {
	Save(ctx context.Context, token, paymentKey, wallet string) error
	// Resolve returns "" when no link exists; an unresolved key is not an
	// error at this layer.
	Resolve(ctx context.Context, token, paymentKey string) (string, error)
}

// CursorStore tracks the last processed transaction timestamp per
// (itemID, accountID). Advance never moves a cursor backwards.
type CursorStore interface {
	Get(ctx context.Context, itemID, accountID string) (time.Time, error)
	Advance(ctx context.Context, itemID, accountID string, ts time.Time) error
}

func linkKey(token, paymentKey string) string {
	return strings.ToLower(token) + ":" + paymentKey
}

func cursorKey(itemID, accountID string) string {
	return itemID + ":" + accountID
}

// MemoryConnectionStore is the non-durable binding, mostly for dev and tests.
type MemoryConnectionStore struct {
	mu   sync.RWMutex
	data map[string]Connection
}

func NewMemoryConnectionStore() *MemoryConnectionStore {
	return &MemoryConnectionStore{data: make(map[string]Connection)}
}

func (m *MemoryConnectionStore) Get(_ context.Context, token string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.data[strings.ToLower(token)]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func (m *MemoryConnectionStore) Save(_ context.Context, token string, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[strings.ToLower(token)] = conn
	return nil
}

func (m *MemoryConnectionStore) FindByItemID(_ context.Context, itemID string) (string, *Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for token, conn := range m.data {
		if conn.ItemID == itemID {
			c := conn
			return token, &c, nil
		}
	}
	return "", nil, nil
}

func (m *MemoryConnectionStore) FindByConnectToken(_ context.Context, connectToken string) (string, *Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for token, conn := range m.data {
		if conn.ConnectToken == connectToken {
			c := conn
			return token, &c, nil
		}
	}
	return "", nil, nil
}

func (m *MemoryConnectionStore) List(_ context.Context) (map[string]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Connection, len(m.data))
	for token, conn := range m.data {
		out[token] = conn
	}
	return out, nil
}

// MemoryLinkStore keeps payment-key links in a map.
type MemoryLinkStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{data: make(map[string]string)}
}

func (m *MemoryLinkStore) Save(_ context.Context, token, paymentKey, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[linkKey(token, paymentKey)] = wallet
	return nil
}

func (m *MemoryLinkStore) Resolve(_ context.Context, token, paymentKey string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[linkKey(token, paymentKey)], nil
}

// MemoryCursorStore keeps cursors in a map.
type MemoryCursorStore struct {
	mu   sync.RWMutex
	data map[string]time.Time
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{data: make(map[string]time.Time)}
}

func (m *MemoryCursorStore) Get(_ context.Context, itemID, accountID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[cursorKey(itemID, accountID)], nil
}

func (m *MemoryCursorStore) Advance(_ context.Context, itemID, accountID string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cursorKey(itemID, accountID)
	if ts.After(m.data[key]) {
		m.data[key] = ts
	}
	return nil
}
