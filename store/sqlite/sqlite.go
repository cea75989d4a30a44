/*
Package sqlite provides a SQLite-backed implementation of loyalty.TxStore.

PURPOSE:
  Single-node persistence for development and small deployments. The
  PostgreSQL store (store/postgres) implements the same interface for
  multi-instance setups.

KEY TABLES:
  rewards:       Catalog
  visits:        Visit claims, one row per claimed purchase
  redemptions:   Redemption claims, FK to rewards (ON DELETE RESTRICT)
  user_balances: Cached currentStamps per user
  audit_log:     Append-only record of every transition
  ledger_meta:   Single row holding the ledger revision

CONDITIONAL UPDATES:
  Transitions are a single statement

    UPDATE visits SET status = ?, collected_by = ?
    WHERE id = ? AND status = ?

  and RowsAffected tells the caller whether it won.

INDEXES:
  - idx_visits_status_created:      staff queue (hot path)
  - idx_redemptions_one_pending:    one pending request per user and reward
  - idx_audit_claim:                per-claim history

CONCURRENCY:
  SQLite has one writer. The pool is capped at one connection and WithTx
  holds the store mutex, so transactions are serialized and LockBalance
  has nothing to do.

TIMESTAMPS:
  Stored as fixed-width UTC text so lexical order equals time order.

USAGE:
  store, err := sqlite.New("./data/leal.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  services := loyalty.NewServices(store)

SEE ALSO:
  - loyalty/store.go:        Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
  - store/postgres:          PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sebastianahumada1/Leal/loyalty"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements loyalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and SQLite
	// has a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		required_stamps INTEGER NOT NULL CHECK (required_stamps > 0),
		icon TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		location_code TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		collected_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_visits_status_created
		ON visits(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_visits_user_status
		ON visits(user_id, status);

	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		reward_id TEXT NOT NULL REFERENCES rewards(id) ON DELETE RESTRICT,
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
		processed_by TEXT,
		created_at TEXT NOT NULL,
		redeemed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_status_created
		ON redemptions(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_redemptions_user_status
		ON redemptions(user_id, status);

	-- At most one outstanding request per user and reward
	CREATE UNIQUE INDEX IF NOT EXISTS idx_redemptions_one_pending
		ON redemptions(user_id, reward_id)
		WHERE status = 'pending';

	CREATE TABLE IF NOT EXISTS user_balances (
		user_id TEXT PRIMARY KEY,
		current_stamps INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		claim_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_claim ON audit_log(claim_id);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);

	CREATE TABLE IF NOT EXISTS ledger_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		revision INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO ledger_meta (id, revision) VALUES (1, 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (loyalty.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store loyalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loyalty.WrapStore("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}

	return loyalty.WrapStore("commit", sqlTx.Commit())
}

// The Store methods take the mutex and run on the pool.

func (s *Store) InsertReward(ctx context.Context, r loyalty.RewardDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertReward(ctx, r)
}

func (s *Store) UpdateReward(ctx context.Context, r loyalty.RewardDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateReward(ctx, r)
}

func (s *Store) GetReward(ctx context.Context, id loyalty.RewardID) (*loyalty.RewardDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetReward(ctx, id)
}

func (s *Store) ListRewards(ctx context.Context, activeOnly bool) ([]loyalty.RewardDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRewards(ctx, activeOnly)
}

func (s *Store) DeleteReward(ctx context.Context, id loyalty.RewardID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteReward(ctx, id)
}

func (s *Store) InsertVisit(ctx context.Context, v loyalty.VisitClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertVisit(ctx, v)
}

func (s *Store) GetVisit(ctx context.Context, id loyalty.VisitID) (*loyalty.VisitClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetVisit(ctx, id)
}

func (s *Store) ListVisits(ctx context.Context, f loyalty.VisitFilter) ([]loyalty.VisitClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListVisits(ctx, f)
}

func (s *Store) CountVisits(ctx context.Context, userID loyalty.UserID, status loyalty.Status) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountVisits(ctx, userID, status)
}

func (s *Store) TransitionVisit(ctx context.Context, id loyalty.VisitID, from, to loyalty.Status, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.TransitionVisit(ctx, id, from, to, actor)
}

func (s *Store) InsertRedemption(ctx context.Context, r loyalty.RedemptionClaim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.InsertRedemption(ctx, r)
}

func (s *Store) GetRedemption(ctx context.Context, id loyalty.RedemptionID) (*loyalty.RedemptionClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetRedemption(ctx, id)
}

func (s *Store) ListRedemptions(ctx context.Context, f loyalty.RedemptionFilter) ([]loyalty.RedemptionClaim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListRedemptions(ctx, f)
}

func (s *Store) CountRedemptions(ctx context.Context, f loyalty.RedemptionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.CountRedemptions(ctx, f)
}

func (s *Store) SumApprovedRedemptionCost(ctx context.Context, userID loyalty.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.SumApprovedRedemptionCost(ctx, userID)
}

func (s *Store) TransitionRedemption(ctx context.Context, id loyalty.RedemptionID, from, to loyalty.Status, actor string, redeemedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.TransitionRedemption(ctx, id, from, to, actor, redeemedAt)
}

func (s *Store) LockBalance(context.Context, loyalty.UserID) error { return nil }

func (s *Store) GetBalance(ctx context.Context, userID loyalty.UserID) (loyalty.UserBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetBalance(ctx, userID)
}

func (s *Store) SetBalance(ctx context.Context, b loyalty.UserBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SetBalance(ctx, b)
}

func (s *Store) ListUsers(ctx context.Context) ([]loyalty.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListUsers(ctx)
}

func (s *Store) Revision(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.Revision(ctx)
}

func (s *Store) BumpRevision(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.BumpRevision(ctx)
}

func (s *Store) AppendAudit(ctx context.Context, e loyalty.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.AppendAudit(ctx, e)
}

func (s *Store) ListAudit(ctx context.Context, f loyalty.AuditFilter) ([]loyalty.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListAudit(ctx, f)
}

// =============================================================================
// QUERIES - Shared by the pool and open transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db querier
}

// --- Catalog ---

const rewardColumns = `id, name, description, required_stamps, icon, active, created_at, updated_at`

func (q *queries) InsertReward(ctx context.Context, r loyalty.RewardDefinition) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rewards (`+rewardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Description, r.RequiredStamps, r.Icon, r.Active,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
	return loyalty.WrapStore("insert reward", err)
}

func (q *queries) UpdateReward(ctx context.Context, r loyalty.RewardDefinition) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE rewards
		SET name = ?, description = ?, required_stamps = ?, icon = ?, active = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Description, r.RequiredStamps, r.Icon, r.Active, formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return loyalty.WrapStore("update reward", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.ID)}
	}
	return nil
}

func (q *queries) GetReward(ctx context.Context, id loyalty.RewardID) (*loyalty.RewardDefinition, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id)
	r, err := scanReward(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(id)}
	}
	if err != nil {
		return nil, loyalty.WrapStore("get reward", err)
	}
	return &r, nil
}

func (q *queries) ListRewards(ctx context.Context, activeOnly bool) ([]loyalty.RewardDefinition, error) {
	query := `SELECT ` + rewardColumns + ` FROM rewards`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY required_stamps ASC, name ASC`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, loyalty.WrapStore("list rewards", err)
	}
	defer rows.Close()

	var out []loyalty.RewardDefinition
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, loyalty.WrapStore("scan reward", err)
		}
		out = append(out, r)
	}
	return out, loyalty.WrapStore("list rewards", rows.Err())
}

func (q *queries) DeleteReward(ctx context.Context, id loyalty.RewardID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyError(err) {
			return &loyalty.RewardInUseError{RewardID: id}
		}
		return loyalty.WrapStore("delete reward", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(id)}
	}
	return nil
}

// --- Visits ---

const visitColumns = `id, user_id, amount, location_code, status, collected_by, created_at`

func (q *queries) InsertVisit(ctx context.Context, v loyalty.VisitClaim) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO visits (`+visitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.UserID, v.Amount.String(), v.LocationCode, v.Status,
		nullString(v.CollectedBy), formatTime(v.CreatedAt))
	return loyalty.WrapStore("insert visit", err)
}

func (q *queries) GetVisit(ctx context.Context, id loyalty.VisitID) (*loyalty.VisitClaim, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = ?`, id)
	v, err := scanVisit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindVisit, ID: string(id)}
	}
	if err != nil {
		return nil, loyalty.WrapStore("get visit", err)
	}
	return &v, nil
}

func (q *queries) ListVisits(ctx context.Context, f loyalty.VisitFilter) ([]loyalty.VisitClaim, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	w.statuses(f.Statuses)
	if !f.Since.IsZero() {
		w.add("created_at >= ?", formatTime(f.Since))
	}

	query := `SELECT ` + visitColumns + ` FROM visits` + w.sql() + order(f.Newest) + limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, loyalty.WrapStore("list visits", err)
	}
	defer rows.Close()

	var out []loyalty.VisitClaim
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, loyalty.WrapStore("scan visit", err)
		}
		out = append(out, v)
	}
	return out, loyalty.WrapStore("list visits", rows.Err())
}

func (q *queries) CountVisits(ctx context.Context, userID loyalty.UserID, status loyalty.Status) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM visits WHERE user_id = ? AND status = ?`, userID, status,
	).Scan(&n)
	return n, loyalty.WrapStore("count visits", err)
}

func (q *queries) TransitionVisit(ctx context.Context, id loyalty.VisitID, from, to loyalty.Status, actor string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE visits SET status = ?, collected_by = ?
		WHERE id = ? AND status = ?
	`, to, actor, id, from)
	if err != nil {
		return false, loyalty.WrapStore("transition visit", err)
	}
	n, err := res.RowsAffected()
	return n == 1, loyalty.WrapStore("transition visit", err)
}

// --- Redemptions ---

const redemptionColumns = `id, user_id, reward_id, status, processed_by, created_at, redeemed_at`

func (q *queries) InsertRedemption(ctx context.Context, r loyalty.RedemptionClaim) error {
	var redeemedAt sql.NullString
	if r.RedeemedAt != nil {
		redeemedAt = sql.NullString{String: formatTime(*r.RedeemedAt), Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.UserID, r.RewardID, r.Status, nullString(r.ProcessedBy), formatTime(r.CreatedAt), redeemedAt)
	if err != nil {
		if isPendingUniquenessError(err) {
			return &loyalty.DuplicateRequestError{UserID: r.UserID, RewardID: r.RewardID}
		}
		if isForeignKeyError(err) {
			return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.RewardID)}
		}
		return loyalty.WrapStore("insert redemption", err)
	}
	return nil
}

func (q *queries) GetRedemption(ctx context.Context, id loyalty.RedemptionID) (*loyalty.RedemptionClaim, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = ?`, id)
	r, err := scanRedemption(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindRedemption, ID: string(id)}
	}
	if err != nil {
		return nil, loyalty.WrapStore("get redemption", err)
	}
	return &r, nil
}

func (q *queries) ListRedemptions(ctx context.Context, f loyalty.RedemptionFilter) ([]loyalty.RedemptionClaim, error) {
	w := redemptionWhere(f)
	query := `SELECT ` + redemptionColumns + ` FROM redemptions` + w.sql() + order(f.Newest) + limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, loyalty.WrapStore("list redemptions", err)
	}
	defer rows.Close()

	var out []loyalty.RedemptionClaim
	for rows.Next() {
		r, err := scanRedemption(rows)
		if err != nil {
			return nil, loyalty.WrapStore("scan redemption", err)
		}
		out = append(out, r)
	}
	return out, loyalty.WrapStore("list redemptions", rows.Err())
}

func (q *queries) CountRedemptions(ctx context.Context, f loyalty.RedemptionFilter) (int, error) {
	w := redemptionWhere(f)
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM redemptions`+w.sql(), w.args...).Scan(&n)
	return n, loyalty.WrapStore("count redemptions", err)
}

func (q *queries) SumApprovedRedemptionCost(ctx context.Context, userID loyalty.UserID) (int, error) {
	var sum int
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(r.required_stamps), 0)
		FROM redemptions d
		JOIN rewards r ON r.id = d.reward_id
		WHERE d.user_id = ? AND d.status = 'approved'
	`, userID).Scan(&sum)
	return sum, loyalty.WrapStore("sum redemption cost", err)
}

func (q *queries) TransitionRedemption(ctx context.Context, id loyalty.RedemptionID, from, to loyalty.Status, actor string, redeemedAt *time.Time) (bool, error) {
	var at sql.NullString
	if redeemedAt != nil {
		at = sql.NullString{String: formatTime(*redeemedAt), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE redemptions SET status = ?, processed_by = ?, redeemed_at = COALESCE(?, redeemed_at)
		WHERE id = ? AND status = ?
	`, to, actor, at, id, from)
	if err != nil {
		return false, loyalty.WrapStore("transition redemption", err)
	}
	n, err := res.RowsAffected()
	return n == 1, loyalty.WrapStore("transition redemption", err)
}

// --- Balances ---

func (q *queries) LockBalance(context.Context, loyalty.UserID) error { return nil }

func (q *queries) GetBalance(ctx context.Context, userID loyalty.UserID) (loyalty.UserBalance, error) {
	b := loyalty.UserBalance{UserID: userID}
	var updatedAt string
	err := q.db.QueryRowContext(ctx,
		`SELECT current_stamps, updated_at FROM user_balances WHERE user_id = ?`, userID,
	).Scan(&b.CurrentStamps, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return b, nil
	}
	if err != nil {
		return b, loyalty.WrapStore("get balance", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return b, loyalty.WrapStore("get balance", err)
	}
	return b, nil
}

func (q *queries) SetBalance(ctx context.Context, b loyalty.UserBalance) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, current_stamps, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET current_stamps = excluded.current_stamps, updated_at = excluded.updated_at
	`, b.UserID, b.CurrentStamps, formatTime(b.UpdatedAt))
	return loyalty.WrapStore("set balance", err)
}

func (q *queries) ListUsers(ctx context.Context) ([]loyalty.UserID, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id FROM visits
		UNION SELECT user_id FROM redemptions
		UNION SELECT user_id FROM user_balances
		ORDER BY 1
	`)
	if err != nil {
		return nil, loyalty.WrapStore("list users", err)
	}
	defer rows.Close()

	var out []loyalty.UserID
	for rows.Next() {
		var id loyalty.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, loyalty.WrapStore("scan user", err)
		}
		out = append(out, id)
	}
	return out, loyalty.WrapStore("list users", rows.Err())
}

// --- Revision ---

func (q *queries) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRowContext(ctx, `SELECT revision FROM ledger_meta WHERE id = 1`).Scan(&rev)
	return rev, loyalty.WrapStore("read revision", err)
}

func (q *queries) BumpRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRowContext(ctx,
		`UPDATE ledger_meta SET revision = revision + 1 WHERE id = 1 RETURNING revision`,
	).Scan(&rev)
	return rev, loyalty.WrapStore("bump revision", err)
}

// --- Audit ---

func (q *queries) AppendAudit(ctx context.Context, e loyalty.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, kind, claim_id, user_id, from_status, to_status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.At), e.ActorID, e.Action, e.Kind, e.ClaimID, e.UserID, e.From, e.To, e.Reason)
	return loyalty.WrapStore("append audit", err)
}

func (q *queries) ListAudit(ctx context.Context, f loyalty.AuditFilter) ([]loyalty.AuditEntry, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.ClaimID != "" {
		w.add("claim_id = ?", f.ClaimID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		args := make([]any, len(f.Actions))
		for i, a := range f.Actions {
			marks[i], args[i] = "?", string(a)
		}
		w.add("action IN ("+strings.Join(marks, ", ")+")", args...)
	}

	query := `
		SELECT id, at, actor_id, action, kind, claim_id, user_id, from_status, to_status, reason
		FROM audit_log` + w.sql() + ` ORDER BY at DESC, rowid DESC` + limit(f.Limit)
	rows, err := q.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, loyalty.WrapStore("list audit", err)
	}
	defer rows.Close()

	var out []loyalty.AuditEntry
	for rows.Next() {
		var (
			e  loyalty.AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.Action, &e.Kind, &e.ClaimID,
			&e.UserID, &e.From, &e.To, &e.Reason); err != nil {
			return nil, loyalty.WrapStore("scan audit", err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, loyalty.WrapStore("scan audit", err)
		}
		out = append(out, e)
	}
	return out, loyalty.WrapStore("list audit", rows.Err())
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanReward(row scanner) (loyalty.RewardDefinition, error) {
	var (
		r                    loyalty.RewardDefinition
		createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.RequiredStamps, &r.Icon, &r.Active, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return r, err
	}
	return r, nil
}

func scanVisit(row scanner) (loyalty.VisitClaim, error) {
	var (
		v           loyalty.VisitClaim
		amount      string
		collectedBy sql.NullString
		createdAt   string
	)
	err := row.Scan(&v.ID, &v.UserID, &amount, &v.LocationCode, &v.Status, &collectedBy, &createdAt)
	if err != nil {
		return v, err
	}
	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return v, fmt.Errorf("visit %s amount %q: %w", v.ID, amount, err)
	}
	if collectedBy.Valid {
		v.CollectedBy = &collectedBy.String
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return v, err
	}
	return v, nil
}

func scanRedemption(row scanner) (loyalty.RedemptionClaim, error) {
	var (
		r           loyalty.RedemptionClaim
		processedBy sql.NullString
		createdAt   string
		redeemedAt  sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &r.RewardID, &r.Status, &processedBy, &createdAt, &redeemedAt)
	if err != nil {
		return r, err
	}
	if processedBy.Valid {
		r.ProcessedBy = &processedBy.String
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if redeemedAt.Valid {
		t, err := parseTime(redeemedAt.String)
		if err != nil {
			return r, err
		}
		r.RedeemedAt = &t
	}
	return r, nil
}

// =============================================================================
// QUERY BUILDING
// =============================================================================

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) statuses(set []loyalty.Status) {
	if len(set) == 0 {
		return
	}
	marks := make([]string, len(set))
	args := make([]any, len(set))
	for i, s := range set {
		marks[i], args[i] = "?", string(s)
	}
	w.add("status IN ("+strings.Join(marks, ", ")+")", args...)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func redemptionWhere(f loyalty.RedemptionFilter) where {
	var w where
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.RewardID != "" {
		w.add("reward_id = ?", f.RewardID)
	}
	w.statuses(f.Statuses)
	return w
}

func order(newest bool) string {
	if newest {
		return " ORDER BY created_at DESC, rowid DESC"
	}
	return " ORDER BY created_at ASC, rowid ASC"
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

// Helper functions

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored time %q: %w", s, err)
	}
	return t, nil
}

func isPendingUniquenessError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		se.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(se.Error(), "redemptions.user_id")
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
