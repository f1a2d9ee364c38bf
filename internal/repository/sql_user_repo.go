package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/twogether/internal/database"
	"github.com/hitoshi/twogether/internal/model"
)

// SQLUserRepo はdatabase/sqlを使用したユーザーリポジトリ。
// PostgreSQLとSQLiteの両方で動作する。
type SQLUserRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB, dialect database.Dialect) *SQLUserRepo {
	return &SQLUserRepo{db: db, dialect: dialect}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return findUserByID(ctx, r.db,
		r.dialect.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`),
		id,
	)
}

// Provision はプロフィールを作成または更新する。
// INSERT ... ON CONFLICT DO NOTHING で新規作成を試み、
// 既存行があった場合のみ表示用フィールドとlast_seen_atをUPDATEする。
// どちらの経路でも書き込みは1行のみで、couple_idには触れない。
func (r *SQLUserRepo) Provision(ctx context.Context, user *model.User) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO users (id, couple_id, display_name, email, email_normalized, avatar_ref, created_at, last_seen_at)
		 VALUES (?, NULL, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`),
		user.ID, user.DisplayName, user.Email, user.EmailNormalized, user.AvatarRef,
		user.CreatedAt.UTC(), user.LastSeenAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 1 {
		return true, nil
	}

	result, err = r.db.ExecContext(ctx,
		r.dialect.Rebind(`UPDATE users
		 SET display_name = ?, email = ?, email_normalized = ?, avatar_ref = ?, last_seen_at = ?
		 WHERE id = ?`),
		user.DisplayName, user.Email, user.EmailNormalized, user.AvatarRef, user.LastSeenAt.UTC(),
		user.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update user: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if updated == 0 {
		return false, fmt.Errorf("user disappeared during provisioning: %s", user.ID)
	}
	return false, nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
