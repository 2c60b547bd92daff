// Package processed records which bank transactions have already been
// settled on-chain, so a re-fetched batch never mints twice.
package processed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record marks one settled transaction.
type Record struct {
	TxHash      string    `json:"txHash"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Store abstracts processed-transaction persistence.
type Store interface {
	// Seen reports whether the key was already settled.
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, record Record) error
}

// Key derives a stable identity for a bank transaction. The aggregator's
// transaction id is authoritative when present: two equal transfers in the
// same instant carry distinct ids and must settle as distinct deposits. The
// field digest covers aggregators that omit ids; amount is rendered in minor
// units so float noise in the major figure cannot split identities.
func Key(itemID, accountID, txID string, ts time.Time, amountMinor, description string) string {
	payload := fmt.Sprintf("%s|%s|id|%s", itemID, accountID, txID)
	if txID == "" {
		payload = fmt.Sprintf("%s|%s|%d|%s|%s", itemID, accountID, ts.UTC().UnixNano(), amountMinor, description)
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (m *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryStore) Mark(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

// FileStore persists records to disk. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *FileStore) Mark(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = record
	return f.persist()
}
