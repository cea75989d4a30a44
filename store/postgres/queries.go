package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/sebastianahumada1/Leal/loyalty"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

// =============================================================================
// CATALOG
// =============================================================================

const rewardColumns = `id, name, description, required_stamps, icon, active, created_at, updated_at`

func (q *queries) InsertReward(ctx context.Context, r loyalty.RewardDefinition) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO rewards (`+rewardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.Name, r.Description, r.RequiredStamps, r.Icon, r.Active, r.CreatedAt, r.UpdatedAt)
	return loyalty.WrapStore("insert reward", err)
}

func (q *queries) UpdateReward(ctx context.Context, r loyalty.RewardDefinition) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE rewards
		SET name = $2, description = $3, required_stamps = $4, icon = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, r.ID, r.Name, r.Description, r.RequiredStamps, r.Icon, r.Active, r.UpdatedAt)
	if err != nil {
		return loyalty.WrapStore("update reward", err)
	}
	if tag.RowsAffected() == 0 {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.ID)}
	}
	return nil
}

func (q *queries) GetReward(ctx context.Context, id loyalty.RewardID) (*loyalty.RewardDefinition, error) {
	r, err := scanReward(q.db.QueryRow(ctx, `SELECT `+rewardColumns+` FROM rewards WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
		query += ` WHERE active`
	}
	query += ` ORDER BY required_stamps ASC, name ASC`

	rows, err := q.db.Query(ctx, query)
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
	tag, err := q.db.Exec(ctx, `DELETE FROM rewards WHERE id = $1`, id)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return &loyalty.RewardInUseError{RewardID: id}
		}
		return loyalty.WrapStore("delete reward", err)
	}
	if tag.RowsAffected() == 0 {
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(id)}
	}
	return nil
}

// =============================================================================
// VISITS
// =============================================================================

const visitColumns = `id, user_id, amount::text, location_code, status, collected_by, created_at`

func (q *queries) InsertVisit(ctx context.Context, v loyalty.VisitClaim) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO visits (id, user_id, amount, location_code, status, collected_by, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
	`, v.ID, v.UserID, v.Amount.String(), v.LocationCode, v.Status, v.CollectedBy, v.CreatedAt)
	return loyalty.WrapStore("insert visit", err)
}

func (q *queries) GetVisit(ctx context.Context, id loyalty.VisitID) (*loyalty.VisitClaim, error) {
	v, err := scanVisit(q.db.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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
		w.add("created_at >= ?", f.Since)
	}

	rows, err := q.db.Query(ctx, `SELECT `+visitColumns+` FROM visits`+w.sql()+order(f.Newest)+limit(f.Limit), w.args...)
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
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM visits WHERE user_id = $1 AND status = $2`, userID, status,
	).Scan(&n)
	return n, loyalty.WrapStore("count visits", err)
}

func (q *queries) TransitionVisit(ctx context.Context, id loyalty.VisitID, from, to loyalty.Status, actor string) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE visits SET status = $3, collected_by = $4
		WHERE id = $1 AND status = $2
	`, id, from, to, actor)
	if err != nil {
		return false, loyalty.WrapStore("transition visit", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

const redemptionColumns = `id, user_id, reward_id, status, processed_by, created_at, redeemed_at`

func (q *queries) InsertRedemption(ctx context.Context, r loyalty.RedemptionClaim) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO redemptions (`+redemptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.UserID, r.RewardID, r.Status, r.ProcessedBy, r.CreatedAt, r.RedeemedAt)
	switch pgCode(err) {
	case "":
		return loyalty.WrapStore("insert redemption", err)
	case codeUniqueViolation:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "idx_redemptions_one_pending" {
			return &loyalty.DuplicateRequestError{UserID: r.UserID, RewardID: r.RewardID}
		}
	case codeForeignKeyViolation:
		return &loyalty.NotFoundError{Kind: loyalty.KindReward, ID: string(r.RewardID)}
	}
	return loyalty.WrapStore("insert redemption", err)
}

func (q *queries) GetRedemption(ctx context.Context, id loyalty.RedemptionID) (*loyalty.RedemptionClaim, error) {
	r, err := scanRedemption(q.db.QueryRow(ctx, `SELECT `+redemptionColumns+` FROM redemptions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &loyalty.NotFoundError{Kind: loyalty.KindRedemption, ID: string(id)}
	}
	if err != nil {
		return nil, loyalty.WrapStore("get redemption", err)
	}
	return &r, nil
}

func (q *queries) ListRedemptions(ctx context.Context, f loyalty.RedemptionFilter) ([]loyalty.RedemptionClaim, error) {
	w := redemptionWhere(f)
	rows, err := q.db.Query(ctx, `SELECT `+redemptionColumns+` FROM redemptions`+w.sql()+order(f.Newest)+limit(f.Limit), w.args...)
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
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM redemptions`+w.sql(), w.args...).Scan(&n)
	return n, loyalty.WrapStore("count redemptions", err)
}

func (q *queries) SumApprovedRedemptionCost(ctx context.Context, userID loyalty.UserID) (int, error) {
	var sum int
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(r.required_stamps), 0)::int
		FROM redemptions d
		JOIN rewards r ON r.id = d.reward_id
		WHERE d.user_id = $1 AND d.status = 'approved'
	`, userID).Scan(&sum)
	return sum, loyalty.WrapStore("sum redemption cost", err)
}

func (q *queries) TransitionRedemption(ctx context.Context, id loyalty.RedemptionID, from, to loyalty.Status, actor string, redeemedAt *time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE redemptions
		SET status = $3, processed_by = $4, redeemed_at = COALESCE($5, redeemed_at)
		WHERE id = $1 AND status = $2
	`, id, from, to, actor, redeemedAt)
	if err != nil {
		return false, loyalty.WrapStore("transition redemption", err)
	}
	return tag.RowsAffected() == 1, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func (q *queries) LockBalance(ctx context.Context, userID loyalty.UserID) error {
	if _, err := q.db.Exec(ctx, `
		INSERT INTO user_balances (user_id, current_stamps, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return loyalty.WrapStore("lock balance", err)
	}
	var one int
	err := q.db.QueryRow(ctx,
		`SELECT 1 FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID,
	).Scan(&one)
	return loyalty.WrapStore("lock balance", err)
}

func (q *queries) GetBalance(ctx context.Context, userID loyalty.UserID) (loyalty.UserBalance, error) {
	b := loyalty.UserBalance{UserID: userID}
	err := q.db.QueryRow(ctx,
		`SELECT current_stamps, updated_at FROM user_balances WHERE user_id = $1`, userID,
	).Scan(&b.CurrentStamps, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	return b, loyalty.WrapStore("get balance", err)
}

func (q *queries) SetBalance(ctx context.Context, b loyalty.UserBalance) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO user_balances (user_id, current_stamps, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET current_stamps = EXCLUDED.current_stamps, updated_at = EXCLUDED.updated_at
	`, b.UserID, b.CurrentStamps, b.UpdatedAt)
	return loyalty.WrapStore("set balance", err)
}

func (q *queries) ListUsers(ctx context.Context) ([]loyalty.UserID, error) {
	rows, err := q.db.Query(ctx, `
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
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, loyalty.WrapStore("scan user", err)
		}
		out = append(out, loyalty.UserID(id))
	}
	return out, loyalty.WrapStore("list users", rows.Err())
}

// =============================================================================
// REVISION & AUDIT
// =============================================================================

func (q *queries) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRow(ctx, `SELECT revision FROM ledger_meta WHERE id = 1`).Scan(&rev)
	return rev, loyalty.WrapStore("read revision", err)
}

func (q *queries) BumpRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRow(ctx,
		`UPDATE ledger_meta SET revision = revision + 1 WHERE id = 1 RETURNING revision`,
	).Scan(&rev)
	return rev, loyalty.WrapStore("bump revision", err)
}

func (q *queries) AppendAudit(ctx context.Context, e loyalty.AuditEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (id, at, actor_id, action, kind, claim_id, user_id, from_status, to_status, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.At, e.ActorID, e.Action, e.Kind, e.ClaimID, e.UserID, e.From, e.To, e.Reason)
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
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY(?)", actions)
	}

	rows, err := q.db.Query(ctx, `
		SELECT id, at, actor_id, action, kind, claim_id, user_id, from_status, to_status, reason
		FROM audit_log`+w.sql()+` ORDER BY at DESC, seq DESC`+limit(f.Limit), w.args...)
	if err != nil {
		return nil, loyalty.WrapStore("list audit", err)
	}
	defer rows.Close()

	var out []loyalty.AuditEntry
	for rows.Next() {
		var (
			e                              loyalty.AuditEntry
			action, kind, from, to, userID string
		)
		if err := rows.Scan(&e.ID, &e.At, &e.ActorID, &action, &kind, &e.ClaimID,
			&userID, &from, &to, &e.Reason); err != nil {
			return nil, loyalty.WrapStore("scan audit", err)
		}
		e.Action = loyalty.AuditAction(action)
		e.Kind = loyalty.ClaimKind(kind)
		e.UserID = loyalty.UserID(userID)
		e.From, e.To = loyalty.Status(from), loyalty.Status(to)
		out = append(out, e)
	}
	return out, loyalty.WrapStore("list audit", rows.Err())
}

// =============================================================================
// SCANNING
// =============================================================================

func scanReward(row pgx.Row) (loyalty.RewardDefinition, error) {
	var (
		r  loyalty.RewardDefinition
		id string
	)
	err := row.Scan(&id, &r.Name, &r.Description, &r.RequiredStamps, &r.Icon, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	r.ID = loyalty.RewardID(id)
	return r, err
}

func scanVisit(row pgx.Row) (loyalty.VisitClaim, error) {
	var (
		v                          loyalty.VisitClaim
		id, userID, status, amount string
	)
	err := row.Scan(&id, &userID, &amount, &v.LocationCode, &status, &v.CollectedBy, &v.CreatedAt)
	if err != nil {
		return v, err
	}
	v.ID, v.UserID, v.Status = loyalty.VisitID(id), loyalty.UserID(userID), loyalty.Status(status)
	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return v, fmt.Errorf("visit %s amount %q: %w", id, amount, err)
	}
	return v, nil
}

func scanRedemption(row pgx.Row) (loyalty.RedemptionClaim, error) {
	var (
		r                            loyalty.RedemptionClaim
		id, userID, rewardID, status string
	)
	err := row.Scan(&id, &userID, &rewardID, &status, &r.ProcessedBy, &r.CreatedAt, &r.RedeemedAt)
	r.ID, r.UserID, r.RewardID, r.Status = loyalty.RedemptionID(id), loyalty.UserID(userID), loyalty.RewardID(rewardID), loyalty.Status(status)
	return r, err
}

// =============================================================================
// QUERY BUILDING
// =============================================================================

// where collects clauses written with "?" and numbers them on output.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) statuses(set []loyalty.Status) {
	if len(set) == 0 {
		return
	}
	values := make([]string, len(set))
	for i, s := range set {
		values[i] = string(s)
	}
	w.add("status = ANY(?)", values)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	parts := make([]string, len(w.clauses))
	for i, c := range w.clauses {
		parts[i] = strings.Replace(c, "?", fmt.Sprintf("$%d", i+1), 1)
	}
	return " WHERE " + strings.Join(parts, " AND ")
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
		return " ORDER BY created_at DESC, seq DESC"
	}
	return " ORDER BY created_at ASC, seq ASC"
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", n)
}

// =============================================================================
// ERRORS
// =============================================================================

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
