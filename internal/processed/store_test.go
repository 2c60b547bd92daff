package processed

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestKeyUsesTransactionID(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Key("item-1", "acc-1", "tx-1", ts, "1000", "PIX alice@pix")
	if Key("item-1", "acc-1", "tx-1", ts, "1000", "PIX alice@pix") != a {
		t.Fatalf("key not stable")
	}

	// Equal transfers in the same instant carry distinct ids and must not
	// collide.
	if Key("item-1", "acc-1", "tx-2", ts, "1000", "PIX alice@pix") == a {
		t.Fatalf("id change must change the key")
	}
	if Key("item-2", "acc-1", "tx-1", ts, "1000", "PIX alice@pix") == a {
		t.Fatalf("item change must change the key")
	}
}

func TestKeyFallsBackToFields(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Key("item-1", "acc-1", "", ts, "1000", "PIX alice@pix")
	if Key("item-1", "acc-1", "", ts, "1000", "PIX alice@pix") != a {
		t.Fatalf("key not stable")
	}

	if Key("item-1", "acc-1", "", ts, "1001", "PIX alice@pix") == a {
		t.Fatalf("amount change must change the key")
	}
	if Key("item-1", "acc-1", "", ts.Add(time.Second), "1000", "PIX alice@pix") == a {
		t.Fatalf("timestamp change must change the key")
	}
	if Key("item-1", "acc-1", "", ts, "1000", "PIX bob@pix") == a {
		t.Fatalf("description change must change the key")
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seen, err := store.Seen(ctx, "k1")
	if err != nil || seen {
		t.Fatalf("fresh key reported seen (%v, %v)", seen, err)
	}

	if err := store.Mark(ctx, "k1", Record{TxHash: "0xabc", ProcessedAt: time.Now()}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	seen, _ = store.Seen(ctx, "k1")
	if !seen {
		t.Fatalf("marked key not seen")
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.json")
	ctx := context.Background()

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Mark(ctx, "k1", Record{TxHash: "0xabc", ProcessedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Reopen from the same file; the record must survive.
	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	seen, _ := reopened.Seen(ctx, "k1")
	if !seen {
		t.Fatalf("record lost across reopen")
	}
	seen, _ = reopened.Seen(ctx, "k2")
	if seen {
		t.Fatalf("unknown key reported seen")
	}
}
