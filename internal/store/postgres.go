package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrAccountNotFound is returned when a handle has no persisted account.
var ErrAccountNotFound = errors.New("account not found")

// Account is a persisted player identity with its rating ledger fields.
type Account struct {
	ID         string
	Handle     string
	Rating     int
	PeakRating int
	Wins       int
	Losses     int
	Draws      int
	CreatedAt  time.Time
}

// MatchRecord is one finished game as stored in the matches table.
// BotTier names the engine difficulty for rated engine games; it is
// empty for human games. RatingBefore and RatingAfter track the rated
// player's movement across the game.
type MatchRecord struct {
	ID           string
	RoomCode     string
	White        string
	Black        string
	Result       string
	Method       string
	MovesUCI     []string
	PGN          string
	WhiteDelta   int
	BlackDelta   int
	BotTier      string
	RatingBefore int
	RatingAfter  int
	PlayedAt     time.Time
	DurationMS   int64
}

// Repository wraps the postgres connection for accounts and match history.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const sqlGetAccount = `SELECT id, handle, rating, peak_rating, wins, losses, draws, created_at
FROM accounts WHERE handle = $1`

// GetAccount loads an account by handle.
func (r *Repository) GetAccount(ctx context.Context, handle string) (*Account, error) {
	var a Account
	err := r.db.QueryRowContext(ctx, sqlGetAccount, strings.TrimSpace(handle)).Scan(
		&a.ID, &a.Handle, &a.Rating, &a.PeakRating, &a.Wins, &a.Losses, &a.Draws, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const sqlEnsureAccount = `INSERT INTO accounts (id, handle, rating, peak_rating)
VALUES ($1, $2, $3, $3)
ON CONFLICT (handle) DO NOTHING`

// EnsureAccount creates the account if it does not exist and returns the
// current row either way.
func (r *Repository) EnsureAccount(ctx context.Context, id, handle string, startRating int) (*Account, error) {
	if _, err := r.db.ExecContext(ctx, sqlEnsureAccount, id, strings.TrimSpace(handle), startRating); err != nil {
		return nil, err
	}
	return r.GetAccount(ctx, handle)
}

const sqlUpdateRating = `UPDATE accounts SET
  rating = $2,
  peak_rating = GREATEST(peak_rating, $2),
  wins = wins + $3,
  losses = losses + $4,
  draws = draws + $5
WHERE handle = $1`

// UpdateRating writes the post-game rating and bumps exactly one of the
// win/loss/draw counters.
func (r *Repository) UpdateRating(ctx context.Context, handle string, rating int, won, lost, drew bool) error {
	w, l, d := 0, 0, 0
	if won {
		w = 1
	}
	if lost {
		l = 1
	}
	if drew {
		d = 1
	}
	res, err := r.db.ExecContext(ctx, sqlUpdateRating, strings.TrimSpace(handle), rating, w, l, d)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const sqlInsertMatch = `INSERT INTO matches (
  id, room_code, white_handle, black_handle,
  result, result_method, moves_uci, pgn,
  white_delta, black_delta, bot_tier,
  rating_before, rating_after, played_at, duration_ms
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
) ON CONFLICT (id) DO UPDATE SET
  result=EXCLUDED.result,
  result_method=EXCLUDED.result_method,
  moves_uci=EXCLUDED.moves_uci,
  pgn=EXCLUDED.pgn,
  white_delta=EXCLUDED.white_delta,
  black_delta=EXCLUDED.black_delta,
  bot_tier=EXCLUDED.bot_tier,
  rating_before=EXCLUDED.rating_before,
  rating_after=EXCLUDED.rating_after,
  played_at=EXCLUDED.played_at,
  duration_ms=EXCLUDED.duration_ms`

// SaveMatch upserts a finished game.
func (r *Repository) SaveMatch(ctx context.Context, m *MatchRecord) error {
	if r == nil || r.db == nil || m == nil {
		return nil
	}
	movesRaw, _ := json.Marshal(m.MovesUCI)
	if m.DurationMS < 0 {
		m.DurationMS = 0
	}
	_, err := r.db.ExecContext(ctx, sqlInsertMatch,
		m.ID, m.RoomCode, m.White, m.Black,
		m.Result, strings.TrimSpace(m.Method), string(movesRaw), m.PGN,
		m.WhiteDelta, m.BlackDelta, m.BotTier,
		m.RatingBefore, m.RatingAfter, m.PlayedAt, m.DurationMS,
	)
	return err
}

const sqlRecentMatches = `SELECT id, room_code, white_handle, black_handle,
  result, result_method, moves_uci, pgn, white_delta, black_delta, bot_tier,
  rating_before, rating_after, played_at, duration_ms
FROM matches ORDER BY played_at DESC LIMIT $1`

// RecentMatches returns the newest finished games, newest first.
func (r *Repository) RecentMatches(ctx context.Context, limit int) ([]*MatchRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, sqlRecentMatches, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MatchRecord
	for rows.Next() {
		var m MatchRecord
		var movesRaw string
		if err := rows.Scan(&m.ID, &m.RoomCode, &m.White, &m.Black,
			&m.Result, &m.Method, &movesRaw, &m.PGN,
			&m.WhiteDelta, &m.BlackDelta, &m.BotTier,
			&m.RatingBefore, &m.RatingAfter, &m.PlayedAt, &m.DurationMS); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(movesRaw), &m.MovesUCI); err != nil {
			m.MovesUCI = nil
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

const sqlCountMatches = `SELECT COUNT(*) FROM matches`
const sqlCountAccounts = `SELECT COUNT(*) FROM accounts`

// Totals returns the number of accounts and finished matches.
func (r *Repository) Totals(ctx context.Context) (accounts, matches int64, err error) {
	if err = r.db.QueryRowContext(ctx, sqlCountAccounts).Scan(&accounts); err != nil {
		return 0, 0, err
	}
	if err = r.db.QueryRowContext(ctx, sqlCountMatches).Scan(&matches); err != nil {
		return 0, 0, err
	}
	return accounts, matches, nil
}
