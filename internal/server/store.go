// Package server is the reference liftlog backend: the HTTP API the sync
// engine talks to. It implements the two halves of the idempotency contract
// the client relies on: a 24-hour (user, key) response cache keyed by the
// Idempotency-Key header, and client-assigned resource ids that turn a
// replayed create into 409 instead of a duplicate row.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/ident"
)

// idempotencyTTL is how long a cached (user, key) response is replayed.
const idempotencyTTL = 24 * time.Hour

// pbkdf2 parameters for password hashing.
const (
	pbkdf2Iterations = 600_000
	pbkdf2KeyLen     = 32
	saltLen          = 16
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrDuplicateSession = errors.New("server: session id already exists")

	// ErrDuplicateSet covers a set id colliding with a row from another
	// session. Distinct from ErrDuplicateSession so 409 strictly means
	// "this session id exists"; a set collision rolls the insert back.
	ErrDuplicateSet = errors.New("server: set id already exists")
	ErrSessionNotFound  = errors.New("server: session not found")
	ErrBadCredentials   = errors.New("server: invalid email or password")
	ErrDuplicateEmail   = errors.New("server: email already registered")
)

// User is a backend account row.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Store owns the backend database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the backend database at dbPath and applies
// migrations. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(context.Background(), p); err != nil {
			db.Close()
			return nil, fmt.Errorf("server: %s: %w", p, err)
		}
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser registers an account with a PBKDF2-hashed password.
func (s *Store) CreateUser(ctx context.Context, email, password string) (*User, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("server: generating salt: %w", err)
	}

	hash, err := pbkdf2.Key(sha256.New, password, salt, pbkdf2Iterations, pbkdf2KeyLen)
	if err != nil {
		return nil, fmt.Errorf("server: hashing password: %w", err)
	}

	user := &User{
		ID:        ident.New(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, password_salt, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, hash, salt, user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEmail, user.Email)
		}

		return nil, fmt.Errorf("server: inserting user: %w", err)
	}

	return user, nil
}

// Authenticate verifies email and password, returning the matching user.
// All failure modes collapse into ErrBadCredentials so callers cannot probe
// which emails exist.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	var (
		user      User
		hash      []byte
		salt      []byte
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, password_salt, created_at
		 FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.Email, &hash, &salt, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBadCredentials
	}

	if err != nil {
		return nil, fmt.Errorf("server: looking up user: %w", err)
	}

	candidate, err := pbkdf2.Key(sha256.New, password, salt, pbkdf2Iterations, pbkdf2KeyLen)
	if err != nil {
		return nil, fmt.Errorf("server: hashing password: %w", err)
	}

	if !hmac.Equal(candidate, hash) {
		return nil, ErrBadCredentials
	}

	user.CreatedAt = time.UnixMilli(createdAt).UTC()

	return &user, nil
}

// InsertSession stores a session and its sets in one transaction. The id
// comes from the client; inserting an id that already exists returns
// ErrDuplicateSession, which the API layer maps to 409.
func (s *Store) InsertSession(ctx context.Context, userID string, req *api.WorkoutSession) (*api.Session, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("server: beginning session insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workout_sessions (id, user_id, program_id, workout_name, date, start_time, end_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, userID, nullString(req.ProgramID), req.WorkoutName, req.Date,
		nullTime(req.StartTime), nullTime(req.EndTime), now.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, req.ID)
		}

		return nil, fmt.Errorf("server: inserting session: %w", err)
	}

	for i := range req.Sets {
		set := &req.Sets[i]

		_, err = tx.ExecContext(ctx,
			`INSERT INTO workout_sets (id, session_id, exercise_id, set_number, weight, reps, rpe, completed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			set.ID, req.ID, set.ExerciseID, set.SetNumber, set.Weight, set.Reps,
			nullFloat(set.RPE), set.Completed,
		)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSet, set.ID)
			}

			return nil, fmt.Errorf("server: inserting set %s: %w", set.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("server: committing session: %w", err)
	}

	return buildSession(userID, req, now), nil
}

// GetSession returns a session owned by userID, with sets and totals.
func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (*api.Session, error) {
	req := &api.WorkoutSession{ID: sessionID}

	var (
		programID sql.NullString
		startTime sql.NullInt64
		endTime   sql.NullInt64
		createdAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT program_id, workout_name, date, start_time, end_time, created_at
		 FROM workout_sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&programID, &req.WorkoutName, &req.Date, &startTime, &endTime, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if err != nil {
		return nil, fmt.Errorf("server: loading session: %w", err)
	}

	req.ProgramID = programID.String
	req.StartTime = timePtr(startTime)
	req.EndTime = timePtr(endTime)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exercise_id, set_number, weight, reps, rpe, completed
		 FROM workout_sets WHERE session_id = ? ORDER BY set_number`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("server: loading sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			set api.WorkoutSet
			rpe sql.NullFloat64
		)

		if err := rows.Scan(&set.ID, &set.ExerciseID, &set.SetNumber, &set.Weight, &set.Reps, &rpe, &set.Completed); err != nil {
			return nil, fmt.Errorf("server: scanning set: %w", err)
		}

		if rpe.Valid {
			set.RPE = &rpe.Float64
		}

		req.Sets = append(req.Sets, set)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("server: iterating sets: %w", err)
	}

	return buildSession(userID, req, time.UnixMilli(createdAt).UTC()), nil
}

// LookupIdempotencyKey returns the cached response for keyHash if one exists
// and is younger than the TTL. Expired entries are deleted on the way out.
func (s *Store) LookupIdempotencyKey(ctx context.Context, keyHash string) (status int, body []byte, ok bool, err error) {
	var (
		bodyStr   string
		createdAt int64
	)

	err = s.db.QueryRowContext(ctx,
		`SELECT response_status, response_body, created_at
		 FROM idempotency_keys WHERE key_hash = ?`,
		keyHash,
	).Scan(&status, &bodyStr, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}

	if err != nil {
		return 0, nil, false, fmt.Errorf("server: looking up idempotency key: %w", err)
	}

	if time.Since(time.UnixMilli(createdAt)) > idempotencyTTL {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE key_hash = ?`, keyHash); err != nil {
			return 0, nil, false, fmt.Errorf("server: expiring idempotency key: %w", err)
		}

		return 0, nil, false, nil
	}

	return status, []byte(bodyStr), true, nil
}

// StoreIdempotencyKey caches a response under keyHash. A concurrent insert
// of the same key keeps the first writer's response.
func (s *Store) StoreIdempotencyKey(ctx context.Context, keyHash, userID string, status int, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency_keys (key_hash, user_id, response_status, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		keyHash, userID, status, string(body), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("server: storing idempotency key: %w", err)
	}

	return nil
}

// CleanupExpiredKeys removes idempotency cache entries past the TTL.
// Run periodically; lookups also expire lazily so this is not load-bearing.
func (s *Store) CleanupExpiredKeys(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-idempotencyTTL).UnixMilli()

	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("server: cleaning idempotency keys: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}

	return n, nil
}

// hashIdempotencyKey derives the cache key from the user and the raw header
// value, so the same header from two users never collides.
func hashIdempotencyKey(userID, key string) string {
	sum := sha256.Sum256([]byte(userID + ":" + key))
	return fmt.Sprintf("%x", sum)
}

// buildSession assembles the response representation with computed totals.
func buildSession(userID string, req *api.WorkoutSession, createdAt time.Time) *api.Session {
	totals := api.SessionTotals{TotalSets: len(req.Sets)}

	for _, set := range req.Sets {
		totals.TotalVolume += set.Weight * float64(set.Reps)
	}

	if req.StartTime != nil && req.EndTime != nil {
		minutes := int(req.EndTime.Sub(*req.StartTime).Minutes())
		totals.Duration = &minutes
	}

	return &api.Session{
		ID:          req.ID,
		UserID:      userID,
		ProgramID:   req.ProgramID,
		WorkoutName: req.WorkoutName,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Sets:        req.Sets,
		Totals:      totals,
		CreatedAt:   createdAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}

	return sql.NullFloat64{Float64: *f, Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := time.UnixMilli(n.Int64).UTC()

	return &t
}
