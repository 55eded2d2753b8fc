package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
	"github.com/auctionhouse/auctiond/internal/infrastructure/config"
)

// PostgresStore is the networked primary backend, backed by a pgx
// connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// ValidatePostgresURL performs the same sanity check the controller
// applies before dialing: postgres scheme, host part, database path.
func ValidatePostgresURL(url string) bool {
	if url == "" {
		return false
	}
	if !strings.HasPrefix(url, "postgresql://") && !strings.HasPrefix(url, "postgres://") {
		return false
	}
	return strings.Contains(url, "@") && strings.Count(url, "/") >= 3
}

// NewPostgresStore opens a pooled connection, verifies it with a ping,
// and ensures the schema exists. Any failure here is an establishment
// failure the failover controller translates into a backend switch.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	if !ValidatePostgresURL(cfg.URL) {
		return nil, fmt.Errorf("invalid postgres URL")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MinIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.ensureSchema(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	logger.Info("postgres store ready",
		zap.Int32("max_conns", poolCfg.MaxConns))
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS auctions (
			id UUID PRIMARY KEY,
			started_by TEXT NOT NULL,
			start_bid BIGINT NOT NULL,
			min_increment BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			started_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			final_price BIGINT,
			winner_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status)`,
		`CREATE TABLE IF NOT EXISTS bids (
			id UUID PRIMARY KEY,
			auction_id UUID NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_ranking ON bids(auction_id, amount DESC, created_at ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) CreateAuction(ctx context.Context, a *auction.Auction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO auctions (id, started_by, start_bid, min_increment, status, started_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.StartedBy, a.StartBid, a.MinIncrement, a.Status.String(), a.StartedAt, a.EndsAt)
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

const auctionColumns = `id, started_by, start_bid, min_increment, status, started_at, ends_at, ended_at, final_price, winner_id`

func (s *PostgresStore) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuctionPgx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetActiveAuction(ctx context.Context) (*auction.Auction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+auctionColumns+` FROM auctions
		WHERE status = 'OPEN'
		ORDER BY started_at DESC
		LIMIT 1`)
	a, err := scanAuctionPgx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active auction: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) EndAuction(ctx context.Context, id uuid.UUID, finalPrice *int64, winnerID *string, endedAt time.Time) error {
	// status = 'OPEN' guard makes the first write win; a second call
	// matches zero rows and changes nothing.
	_, err := s.pool.Exec(ctx, `
		UPDATE auctions
		SET status = 'ENDED', final_price = $2, winner_id = $3, ended_at = $4
		WHERE id = $1 AND status = 'OPEN'`,
		id, finalPrice, winnerID, endedAt)
	if err != nil {
		return fmt.Errorf("ending auction: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddBid(ctx context.Context, b *auction.Bid) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.AuctionID, b.UserID, b.Amount, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("adding bid: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*auction.Bid, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("getting bids: %w", err)
	}
	defer rows.Close()

	var bids []*auction.Bid
	for rows.Next() {
		var b auction.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		bids = append(bids, &b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error) {
	var b auction.Bid
	err := s.pool.QueryRow(ctx, `
		DELETE FROM bids
		WHERE id = (
			SELECT id FROM bids
			WHERE auction_id = $1
			ORDER BY created_at DESC
			LIMIT 1
		)
		RETURNING id, auction_id, user_id, amount, created_at`, auctionID).
		Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("undoing last bid: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// scanAuctionPgx maps one auctions row. Nullable columns come back as
// pointers already matching the domain shape.
func scanAuctionPgx(row pgx.Row) (*auction.Auction, error) {
	var a auction.Auction
	var status string
	if err := row.Scan(
		&a.ID, &a.StartedBy, &a.StartBid, &a.MinIncrement, &status,
		&a.StartedAt, &a.EndsAt, &a.EndedAt, &a.FinalPrice, &a.WinnerID,
	); err != nil {
		return nil, err
	}
	a.Status = auction.ParseStatus(status)
	return &a, nil
}
