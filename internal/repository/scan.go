package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/twogether/internal/model"
)

// querier は*sql.DBと*sql.Txの共通部分。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, couple_id, display_name, email, email_normalized, avatar_ref, created_at, last_seen_at`

const coupleColumns = `id, member_a, member_b, anniversary_date, next_planned_date, created_at`

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var coupleID, displayName, email, emailNormalized, avatarRef sql.NullString
	if err := s.Scan(
		&user.ID, &coupleID, &displayName, &email, &emailNormalized, &avatarRef,
		&user.CreatedAt, &user.LastSeenAt,
	); err != nil {
		return nil, err
	}
	user.CoupleID = nullStringPtr(coupleID)
	user.DisplayName = nullStringPtr(displayName)
	user.Email = nullStringPtr(email)
	user.EmailNormalized = nullStringPtr(emailNormalized)
	user.AvatarRef = nullStringPtr(avatarRef)
	user.CreatedAt = user.CreatedAt.UTC()
	user.LastSeenAt = user.LastSeenAt.UTC()
	return user, nil
}

func scanCouple(s rowScanner) (*model.Couple, error) {
	couple := &model.Couple{}
	var next sql.NullTime
	if err := s.Scan(
		&couple.ID, &couple.MemberA, &couple.MemberB,
		&couple.AnniversaryDate, &next, &couple.CreatedAt,
	); err != nil {
		return nil, err
	}
	couple.AnniversaryDate = couple.AnniversaryDate.UTC()
	couple.CreatedAt = couple.CreatedAt.UTC()
	if next.Valid {
		t := next.Time.UTC()
		couple.NextPlannedDate = &t
	}
	return couple, nil
}

// findUserByID はロック句を指定してユーザーを1件取得する。見つからない場合はnilを返す。
func findUserByID(ctx context.Context, q querier, query, id string) (*model.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
