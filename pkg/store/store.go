// Package store is the durable layer: player accounts, finished matches,
// per-match replay logs, and action timing samples, all in a single SQLite
// database. Writes flow through a circuit breaker so a wedged database
// degrades persistence instead of stalling live rooms.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/bcrypt"

	"github.com/opd-ai/go-astroduel/pkg/config"
	"github.com/opd-ai/go-astroduel/pkg/logging"
	"github.com/opd-ai/go-astroduel/pkg/room"
)

var (
	// ErrUsernameTaken is returned when registration hits an existing name.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned for unknown users and bad passwords
	// alike, so callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	win_count INTEGER NOT NULL DEFAULT 0,
	highest_score INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS games (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user1_id INTEGER REFERENCES users(id),
	user2_id INTEGER REFERENCES users(id),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS game_stats (
	game_id INTEGER PRIMARY KEY REFERENCES games(id),
	winner_id INTEGER REFERENCES users(id),
	loser_id INTEGER REFERENCES users(id),
	winner_score INTEGER NOT NULL,
	loser_score INTEGER NOT NULL,
	draw INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS replays (
	game_id INTEGER PRIMARY KEY REFERENCES games(id),
	log BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS action_times (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_highest_score ON users(highest_score DESC);
CREATE INDEX IF NOT EXISTS idx_games_users ON games(user1_id, user2_id);
`

// HighScore is one leaderboard row.
type HighScore struct {
	Username     string `json:"username"`
	HighestScore int    `json:"highestScore"`
	WinCount     int    `json:"winCount"`
}

// GameSummary is one row of a player's match history.
type GameSummary struct {
	GameID        int64     `json:"gameId"`
	Opponent      string    `json:"opponent"`
	Won           bool      `json:"won"`
	Draw          bool      `json:"draw"`
	Score         int       `json:"score"`
	OpponentScore int       `json:"opponentScore"`
	PlayedAt      time.Time `json:"playedAt"`
}

// Store wraps the SQLite database behind the account, match, and replay
// operations the rest of the server needs.
type Store struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

// Store satisfies the persistence dependency of finished rooms.
var _ room.Recorder = (*Store)(nil)

// NewStore opens (creating if needed) the database at path and applies the
// schema. The circuit breaker guards every write path.
func NewStore(path string, envCfg *config.EnvironmentConfig, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "astroduel-store",
		MaxRequests: uint32(envCfg.CircuitBreakerMaxRequests),
		Interval:    envCfg.CircuitBreakerInterval,
		Timeout:     envCfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(envCfg.CircuitBreakerMaxConsecutiveFails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info(context.Background(), "store circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Store{
		db:      db,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BreakerState exposes the write breaker's state for health reporting.
func (s *Store) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// write routes a mutation through the circuit breaker.
func (s *Store) write(op func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, op()
	})
	return err
}

// CreateUser registers a new account and returns its id. The password is
// stored as a bcrypt hash, never in the clear.
func (s *Store) CreateUser(ctx context.Context, username, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	var id int64
	err = s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO users (username, password_hash) VALUES (?, ?)", username, string(hash))
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
				return ErrUsernameTaken
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "user created", "username", username, "user_id", id)
	return id, nil
}

// IsValidUser checks a username/password pair and returns the user id on
// success.
func (s *Store) IsValidUser(ctx context.Context, username, password string) (int64, error) {
	var id int64
	var hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, password_hash FROM users WHERE username = ?", username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}
	return id, nil
}

// GetUserHighScore returns the recorded personal best for a username.
func (s *Store) GetUserHighScore(ctx context.Context, username string) (int, error) {
	var score int
	err := s.db.QueryRowContext(ctx,
		"SELECT highest_score FROM users WHERE username = ?", username).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query high score: %w", err)
	}
	return score, nil
}

// GetTopHighScores returns the leaderboard, best score first.
func (s *Store) GetTopHighScores(ctx context.Context, limit int) ([]HighScore, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, highest_score, win_count FROM users ORDER BY highest_score DESC, username ASC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []HighScore
	for rows.Next() {
		var h HighScore
		if err := rows.Scan(&h.Username, &h.HighestScore, &h.WinCount); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CreateGameRecord inserts the parent row for a finished match and returns
// its id. A zero user id marks a guest seat and is stored as NULL.
func (s *Store) CreateGameRecord(ctx context.Context, userID1, userID2 int64) (int64, error) {
	var id int64
	err := s.write(func() error {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO games (user1_id, user2_id) VALUES (?, ?)",
			nullableID(userID1), nullableID(userID2))
		if err != nil {
			return fmt.Errorf("failed to insert game record: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RecordGameStats stores the match outcome and folds it into the winner's
// win count and both players' personal bests. Guest seats are skipped.
func (s *Store) RecordGameStats(ctx context.Context, gameID int64, result room.MatchResult) error {
	return s.write(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin stats transaction: %w", err)
		}
		defer tx.Rollback()

		draw := 0
		if result.Draw {
			draw = 1
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO game_stats (game_id, winner_id, loser_id, winner_score, loser_score, draw) VALUES (?, ?, ?, ?, ?, ?)",
			gameID, nullableID(result.WinnerID), nullableID(result.LoserID),
			result.WinnerScore, result.LoserScore, draw); err != nil {
			return fmt.Errorf("failed to insert game stats: %w", err)
		}

		if !result.Draw && result.WinnerID != 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET win_count = win_count + 1 WHERE id = ?", result.WinnerID); err != nil {
				return fmt.Errorf("failed to bump win count: %w", err)
			}
		}
		if result.WinnerID != 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET highest_score = MAX(highest_score, ?) WHERE id = ?",
				result.WinnerScore, result.WinnerID); err != nil {
				return fmt.Errorf("failed to update personal best: %w", err)
			}
		}
		if result.LoserID != 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET highest_score = MAX(highest_score, ?) WHERE id = ?",
				result.LoserScore, result.LoserID); err != nil {
				return fmt.Errorf("failed to update personal best: %w", err)
			}
		}

		return tx.Commit()
	})
}

// SaveReplay stores the serialized per-turn history of a finished match.
func (s *Store) SaveReplay(ctx context.Context, gameID int64, log []byte) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO replays (game_id, log) VALUES (?, ?)", gameID, log)
		if err != nil {
			return fmt.Errorf("failed to save replay: %w", err)
		}
		return nil
	})
}

// GetReplay returns the replay blob for a finished match.
func (s *Store) GetReplay(ctx context.Context, gameID int64) ([]byte, error) {
	var log []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT log FROM replays WHERE game_id = ?", gameID).Scan(&log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query replay: %w", err)
	}
	return log, nil
}

// GetUserGames returns the player's match history, newest first.
func (s *Store) GetUserGames(ctx context.Context, userID int64) ([]GameSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.created_at, s.winner_id, s.winner_score, s.loser_score, s.draw,
		       COALESCE(opp.username, 'guest')
		FROM games g
		JOIN game_stats s ON s.game_id = g.id
		LEFT JOIN users opp ON opp.id = CASE WHEN g.user1_id = ? THEN g.user2_id ELSE g.user1_id END
		WHERE g.user1_id = ? OR g.user2_id = ?
		ORDER BY g.created_at DESC, g.id DESC`, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query game history: %w", err)
	}
	defer rows.Close()

	var out []GameSummary
	for rows.Next() {
		var (
			g        GameSummary
			winnerID sql.NullInt64
			draw     int
			wScore   int
			lScore   int
		)
		if err := rows.Scan(&g.GameID, &g.PlayedAt, &winnerID, &wScore, &lScore, &draw, &g.Opponent); err != nil {
			return nil, fmt.Errorf("failed to scan game row: %w", err)
		}
		g.Draw = draw != 0
		won := winnerID.Valid && winnerID.Int64 == userID
		g.Won = won && !g.Draw
		if won {
			g.Score, g.OpponentScore = wScore, lScore
		} else {
			g.Score, g.OpponentScore = lScore, wScore
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LogActionTime records how long a named server action took. Samples feed
// offline performance analysis; failures here are never fatal.
func (s *Store) LogActionTime(ctx context.Context, action string, duration time.Duration) error {
	return s.write(func() error {
		_, err := s.db.ExecContext(ctx,
			"INSERT INTO action_times (action, duration_ms) VALUES (?, ?)",
			action, duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to log action time: %w", err)
		}
		return nil
	})
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
