package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// SQLTxStore は連携・修復処理のトランザクションを提供する。
// PostgreSQLでは行ロック（SELECT ... FOR UPDATE）、SQLiteではBEGIN IMMEDIATEで直列化する。
type SQLTxStore struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLTxStore はSQLTxStoreを生成する。
func NewSQLTxStore(db *sql.DB, dialect database.Dialect) *SQLTxStore {
	return &SQLTxStore{db: db, dialect: dialect}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをラップせずに返す。
func (s *SQLTxStore) WithinTx(ctx context.Context, fn func(tx LinkTx) error) error {
	return s.withinTx(ctx, func(tx *sqlTx) error { return fn(tx) })
}

// WithinRepairTx はfnを1つのトランザクション内で実行する。
func (s *SQLTxStore) WithinRepairTx(ctx context.Context, fn func(tx RepairTx) error) error {
	return s.withinTx(ctx, func(tx *sqlTx) error { return fn(tx) })
}

func (s *SQLTxStore) withinTx(ctx context.Context, fn func(tx *sqlTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListUnreconciledCoupleIDs はメンバーの少なくとも一方が
// そのカップルを参照していないカップルのIDを返す。
func (s *SQLTxStore) ListUnreconciledCoupleIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.Rebind(`SELECT c.id
		 FROM couples c
		 LEFT JOIN users ua ON ua.id = c.member_a
		 LEFT JOIN users ub ON ub.id = c.member_b
		 WHERE ua.couple_id IS NULL OR ua.couple_id <> c.id
		    OR ub.couple_id IS NULL OR ub.couple_id <> c.id
		 ORDER BY c.created_at ASC, c.id ASC
		 LIMIT ?`),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unreconciled couples: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan couple id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate couples: %w", err)
	}
	return ids, nil
}

// ClearDanglingCoupleIDs は参照先のカップルが存在しない、
// または自分がメンバーでないカップルを指すcouple_idをNULLに戻す。
func (s *SQLTxStore) ClearDanglingCoupleIDs(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET couple_id = NULL
		 WHERE couple_id IS NOT NULL
		   AND NOT EXISTS (
		     SELECT 1 FROM couples c
		     WHERE c.id = users.couple_id
		       AND (c.member_a = users.id OR c.member_b = users.id)
		   )`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear dangling couple ids: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// sqlTx はLinkTxとRepairTxの実装。
type sqlTx struct {
	tx      *sql.Tx
	dialect database.Dialect
}

// FindUsersByEmailNormalized は正規化済みメールアドレスが一致するユーザーを最大limit件返す。
// ロックは取得しない。呼び出し側はLockUsersで再取得してから判定すること。
func (t *sqlTx) FindUsersByEmailNormalized(ctx context.Context, emailNormalized string, limit int) ([]*model.User, error) {
	rows, err := t.tx.QueryContext(ctx,
		t.dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE email_normalized = ? ORDER BY id LIMIT ?`),
		emailNormalized, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users by email: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// LockUsers は指定ユーザーの行をID昇順に1行ずつロックする。
// 全トランザクションが同じ順序でロックを取るため、デッドロックは発生しない。
func (t *sqlTx) LockUsers(ctx context.Context, ids ...string) (map[string]*model.User, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	query := t.dialect.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?` + t.dialect.ForUpdate())
	users := make(map[string]*model.User, len(sorted))
	for _, id := range sorted {
		if _, ok := users[id]; ok {
			continue
		}
		user, err := findUserByID(ctx, t.tx, query, id)
		if err != nil {
			return nil, fmt.Errorf("failed to lock user: %w", err)
		}
		if user != nil {
			users[id] = user
		}
	}
	return users, nil
}

// CreateCouple はカップルを作成する。
func (t *sqlTx) CreateCouple(ctx context.Context, couple *model.Couple) error {
	_, err := t.tx.ExecContext(ctx,
		t.dialect.Rebind(`INSERT INTO couples (`+coupleColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		couple.ID, couple.MemberA, couple.MemberB,
		couple.AnniversaryDate.UTC(), nullTimeArg(couple.NextPlannedDate), couple.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert couple: %w", err)
	}
	return nil
}

// SetCoupleIDIfUnlinked はcouple_idがNULLの場合のみ設定する（compare-and-swap）。
func (t *sqlTx) SetCoupleIDIfUnlinked(ctx context.Context, userID, coupleID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		t.dialect.Rebind(`UPDATE users SET couple_id = ? WHERE id = ? AND couple_id IS NULL`),
		coupleID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set couple id: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// LockCouple は指定カップルの行をロックして返す。見つからない場合はnilを返す。
func (t *sqlTx) LockCouple(ctx context.Context, id string) (*model.Couple, error) {
	couple, err := scanCouple(t.tx.QueryRowContext(ctx,
		t.dialect.Rebind(`SELECT `+coupleColumns+` FROM couples WHERE id = ?`+t.dialect.ForUpdate()),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock couple: %w", err)
	}
	return couple, nil
}

// ClearCoupleID はユーザーのcouple_idが指定カップルを指している場合のみNULLに戻す。
func (t *sqlTx) ClearCoupleID(ctx context.Context, userID, coupleID string) error {
	_, err := t.tx.ExecContext(ctx,
		t.dialect.Rebind(`UPDATE users SET couple_id = NULL WHERE id = ? AND couple_id = ?`),
		userID, coupleID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear couple id: %w", err)
	}
	return nil
}

// DeleteCouple はカップルと関連する目標を削除する。
func (t *sqlTx) DeleteCouple(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx,
		t.dialect.Rebind(`DELETE FROM goals WHERE couple_id = ?`), id,
	); err != nil {
		return fmt.Errorf("failed to delete goals: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		t.dialect.Rebind(`DELETE FROM couples WHERE id = ?`), id,
	); err != nil {
		return fmt.Errorf("failed to delete couple: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ LinkStore   = (*SQLTxStore)(nil)
	_ RepairStore = (*SQLTxStore)(nil)
	_ LinkTx      = (*sqlTx)(nil)
	_ RepairTx    = (*sqlTx)(nil)
)
