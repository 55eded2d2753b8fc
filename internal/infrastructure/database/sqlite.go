package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/auctionhouse/auctiond/internal/domain/auction"
)

// SQLiteStore is the embedded secondary backend. It has no failure
// mode worth modeling at construction: local storage is assumed always
// constructible, which is what makes it safe to fail over to.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path, applies
// pragmas, and ensures the schema. Safe to call more than once.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent monitor and bid traffic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	logger.Info("sqlite store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		)`,
		`CREATE TABLE IF NOT EXISTS auctions (
			id TEXT PRIMARY KEY,
			started_by TEXT NOT NULL,
			start_bid INTEGER NOT NULL,
			min_increment INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			started_at INTEGER NOT NULL,
			ends_at INTEGER NOT NULL,
			ended_at INTEGER,
			final_price INTEGER,
			winner_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status)`,
		`CREATE TABLE IF NOT EXISTS bids (
			id TEXT PRIMARY KEY,
			auction_id TEXT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_ranking ON bids(auction_id, amount DESC, created_at ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Timestamps are stored as unix nanoseconds so bid ordering survives
// the round trip at full resolution.
func toUnix(t time.Time) int64    { return t.UnixNano() }
func fromUnix(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func fromUnixPtr(ns *int64) *time.Time {
	if ns == nil {
		return nil
	}
	t := fromUnix(*ns)
	return &t
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = strftime('%s', 'now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting setting %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
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

func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting setting %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) CreateAuction(ctx context.Context, a *auction.Auction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (id, started_by, start_bid, min_increment, status, started_at, ends_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.StartedBy, a.StartBid, a.MinIncrement, a.Status.String(),
		toUnix(a.StartedAt), toUnix(a.EndsAt))
	if err != nil {
		return fmt.Errorf("creating auction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAuction(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_by, start_bid, min_increment, status, started_at, ends_at, ended_at, final_price, winner_id
		FROM auctions WHERE id = ?`, id.String())
	a, err := scanAuctionSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetActiveAuction(ctx context.Context) (*auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_by, start_bid, min_increment, status, started_at, ends_at, ended_at, final_price, winner_id
		FROM auctions
		WHERE status = 'OPEN'
		ORDER BY started_at DESC
		LIMIT 1`)
	a, err := scanAuctionSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active auction: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) EndAuction(ctx context.Context, id uuid.UUID, finalPrice *int64, winnerID *string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET status = 'ENDED', final_price = ?, winner_id = ?, ended_at = ?
		WHERE id = ? AND status = 'OPEN'`,
		finalPrice, winnerID, toUnix(endedAt), id.String())
	if err != nil {
		return fmt.Errorf("ending auction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddBid(ctx context.Context, b *auction.Bid) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		b.ID.String(), b.AuctionID.String(), b.UserID, b.Amount, toUnix(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("adding bid: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetBidsForAuction(ctx context.Context, auctionID uuid.UUID) ([]*auction.Bid, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids
		WHERE auction_id = ?
		ORDER BY amount DESC, created_at ASC`, auctionID.String())
	if err != nil {
		return nil, fmt.Errorf("getting bids: %w", err)
	}
	defer rows.Close()

	var bids []*auction.Bid
	for rows.Next() {
		b, err := scanBidSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *SQLiteStore) UndoLastBid(ctx context.Context, auctionID uuid.UUID) (*auction.Bid, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids
		WHERE auction_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, auctionID.String())
	b, err := scanBidSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding last bid: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM bids WHERE id = ?`, b.ID.String()); err != nil {
		return nil, fmt.Errorf("removing last bid: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuctionSQLite(row rowScanner) (*auction.Auction, error) {
	var a auction.Auction
	var id, status string
	var startedAt, endsAt int64
	var endedAt, finalPrice *int64
	if err := row.Scan(
		&id, &a.StartedBy, &a.StartBid, &a.MinIncrement, &status,
		&startedAt, &endsAt, &endedAt, &finalPrice, &a.WinnerID,
	); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing auction id %q: %w", id, err)
	}
	a.ID = parsed
	a.Status = auction.ParseStatus(status)
	a.StartedAt = fromUnix(startedAt)
	a.EndsAt = fromUnix(endsAt)
	a.EndedAt = fromUnixPtr(endedAt)
	a.FinalPrice = finalPrice
	return &a, nil
}

func scanBidSQLite(row rowScanner) (*auction.Bid, error) {
	var b auction.Bid
	var id, auctionID string
	var createdAt int64
	if err := row.Scan(&id, &auctionID, &b.UserID, &b.Amount, &createdAt); err != nil {
		return nil, err
	}
	bidID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing bid id %q: %w", id, err)
	}
	aucID, err := uuid.Parse(auctionID)
	if err != nil {
		return nil, fmt.Errorf("parsing auction id %q: %w", auctionID, err)
	}
	b.ID = bidID
	b.AuctionID = aucID
	b.CreatedAt = fromUnix(createdAt)
	return &b, nil
}
