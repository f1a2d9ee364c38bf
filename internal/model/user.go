// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーのプロフィールを表す。
// IDは外部IdPが発行したトークンのsubject（UID）そのもの。
// 表示用フィールドはクライアント申告値のため、認可判断には使用しない。
type User struct {
	ID              string
	CoupleID        *string // 連携済みカップルのID。未連携ならnil
	DisplayName     *string
	Email           *string
	EmailNormalized *string // パートナー検索用に正規化したメールアドレス
	AvatarRef       *string
	CreatedAt       time.Time
	LastSeenAt      time.Time
}

// IsLinked はユーザーが既にカップルに属しているかを返す。空文字は未連携として扱う。
func (u *User) IsLinked() bool {
	return u != nil && u.CoupleID != nil && *u.CoupleID != ""
}
