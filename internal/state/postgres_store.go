package state

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStores bundles the three durable stores over one connection pool.
type PostgresStores struct {
	Connections *PostgresConnectionStore
	Links       *PostgresLinkStore
	Cursors     *PostgresCursorStore

	pool *pgxpool.Pool
}

const createStateTablesSQL = `
CREATE TABLE IF NOT EXISTS bank_connections (
    token TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    network TEXT NOT NULL,
    connect_token TEXT NOT NULL DEFAULT '',
    connect_url TEXT NOT NULL DEFAULT '',
    expires_at TIMESTAMPTZ,
    account_id TEXT NOT NULL DEFAULT '',
    item_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS bank_connections_item_id ON bank_connections (item_id);

CREATE TABLE IF NOT EXISTS payment_links (
    token TEXT NOT NULL,
    payment_key TEXT NOT NULL,
    wallet TEXT NOT NULL,
    PRIMARY KEY (token, payment_key)
);

CREATE TABLE IF NOT EXISTS reconcile_cursors (
    item_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    last_processed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (item_id, account_id)
);
`

// NewPostgresStores connects using the DSN and ensures the tables exist.
func NewPostgresStores(ctx context.Context, dsn string) (*PostgresStores, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createStateTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStores{
		Connections: &PostgresConnectionStore{pool: pool},
		Links:       &PostgresLinkStore{pool: pool},
		Cursors:     &PostgresCursorStore{pool: pool},
		pool:        pool,
	}, nil
}

func (p *PostgresStores) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStores) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Pool exposes the shared connection pool so sibling stores can reuse it.
func (p *PostgresStores) Pool() *pgxpool.Pool {
	return p.pool
}

type PostgresConnectionStore struct {
	pool *pgxpool.Pool
}

const connectionColumns = `status, network, connect_token, connect_url, expires_at, account_id, item_id`

func (p *PostgresConnectionStore) Get(ctx context.Context, token string) (*Connection, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM bank_connections WHERE token = $1`,
		strings.ToLower(token))
	return scanConnection(row)
}

func (p *PostgresConnectionStore) Save(ctx context.Context, token string, conn Connection) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO bank_connections (token, status, network, connect_token, connect_url, expires_at, account_id, item_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (token) DO UPDATE
SET status = EXCLUDED.status,
    network = EXCLUDED.network,
    connect_token = EXCLUDED.connect_token,
    connect_url = EXCLUDED.connect_url,
    expires_at = EXCLUDED.expires_at,
    account_id = EXCLUDED.account_id,
    item_id = EXCLUDED.item_id
`, strings.ToLower(token), conn.Status, conn.Network, conn.ConnectToken, conn.ConnectURL,
		conn.ExpiresAt, conn.AccountID, conn.ItemID)
	return err
}

func (p *PostgresConnectionStore) FindByItemID(ctx context.Context, itemID string) (string, *Connection, error) {
	return p.findBy(ctx, `item_id`, itemID)
}

func (p *PostgresConnectionStore) FindByConnectToken(ctx context.Context, connectToken string) (string, *Connection, error) {
	return p.findBy(ctx, `connect_token`, connectToken)
}

func (p *PostgresConnectionStore) findBy(ctx context.Context, column, value string) (string, *Connection, error) {
	if value == "" {
		return "", nil, nil
	}
	row := p.pool.QueryRow(ctx,
		`SELECT token, `+connectionColumns+` FROM bank_connections WHERE `+column+` = $1 LIMIT 1`, value)

	var token string
	var conn Connection
	err := row.Scan(&token, &conn.Status, &conn.Network, &conn.ConnectToken, &conn.ConnectURL,
		&conn.ExpiresAt, &conn.AccountID, &conn.ItemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return token, &conn, nil
}

func (p *PostgresConnectionStore) List(ctx context.Context) (map[string]Connection, error) {
	rows, err := p.pool.Query(ctx, `SELECT token, `+connectionColumns+` FROM bank_connections`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Connection)
	for rows.Next() {
		var token string
		var conn Connection
		if err := rows.Scan(&token, &conn.Status, &conn.Network, &conn.ConnectToken, &conn.ConnectURL,
			&conn.ExpiresAt, &conn.AccountID, &conn.ItemID); err != nil {
			return nil, err
		}
		out[token] = conn
	}
	return out, rows.Err()
}

func scanConnection(row pgx.Row) (*Connection, error) {
	var conn Connection
	err := row.Scan(&conn.Status, &conn.Network, &conn.ConnectToken, &conn.ConnectURL,
		&conn.ExpiresAt, &conn.AccountID, &conn.ItemID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

type PostgresLinkStore struct {
	pool *pgxpool.Pool
}

func (p *PostgresLinkStore) Save(ctx context.Context, token, paymentKey, wallet string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO payment_links (token, payment_key, wallet)
VALUES ($1, $2, $3)
ON CONFLICT (token, payment_key) DO UPDATE SET wallet = EXCLUDED.wallet
`, strings.ToLower(token), paymentKey, wallet)
	return err
}

func (p *PostgresLinkStore) Resolve(ctx context.Context, token, paymentKey string) (string, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT wallet FROM payment_links WHERE token = $1 AND payment_key = $2`,
		strings.ToLower(token), paymentKey)

	var wallet string
	if err := row.Scan(&wallet); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return wallet, nil
}

type PostgresCursorStore struct {
	pool *pgxpool.Pool
}

func (p *PostgresCursorStore) Get(ctx context.Context, itemID, accountID string) (time.Time, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT last_processed_at FROM reconcile_cursors WHERE item_id = $1 AND account_id = $2`,
		itemID, accountID)

	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return ts, nil
}

func (p *PostgresCursorStore) Advance(ctx context.Context, itemID, accountID string, ts time.Time) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO reconcile_cursors (item_id, account_id, last_processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (item_id, account_id) DO UPDATE
SET last_processed_at = GREATEST(reconcile_cursors.last_processed_at, EXCLUDED.last_processed_at)
`, itemID, accountID, ts)
	return err
}
