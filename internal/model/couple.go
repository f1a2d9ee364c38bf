package model

import (
	"time"
)

// Couple は連携した2人のユーザーの共有レコードを表す。
// メンバーは常に MemberA < MemberB の正規順で保持し、同一ペアは1件のみ存在する。
type Couple struct {
	ID              string
	MemberA         string
	MemberB         string
	AnniversaryDate time.Time
	NextPlannedDate *time.Time
	CreatedAt       time.Time
}

// NewCouple は2人のUIDから正規順のCoupleを生成する。
// 引数の順序は結果に影響しない。
func NewCouple(id, uid1, uid2 string, anniversary, now time.Time) *Couple {
	a, b := uid1, uid2
	if a > b {
		a, b = b, a
	}
	return &Couple{
		ID:              id,
		MemberA:         a,
		MemberB:         b,
		AnniversaryDate: anniversary,
		CreatedAt:       now,
	}
}

// MemberIDs はメンバーのUIDを返す。
func (c *Couple) MemberIDs() []string {
	return []string{c.MemberA, c.MemberB}
}

// HasMember は指定UIDがメンバーに含まれるかを返す。
func (c *Couple) HasMember(uid string) bool {
	return c.MemberA == uid || c.MemberB == uid
}

// PartnerOf は指定UIDの相手のUIDを返す。メンバーでない場合は空文字を返す。
func (c *Couple) PartnerOf(uid string) string {
	switch uid {
	case c.MemberA:
		return c.MemberB
	case c.MemberB:
		return c.MemberA
	default:
		return ""
	}
}

// DaysTogether は記念日からnowまでの経過日数（切り捨て）を返す。
// 記念日が未来の場合は負の値になる。
func (c *Couple) DaysTogether(now time.Time) int {
	d := now.Sub(c.AnniversaryDate)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// Goal はカップルの共有目標を表す。
type Goal struct {
	ID        string
	CoupleID  string
	Title     string
	Completed bool
	CreatedAt time.Time
}

// MoodValue は気分の種別を表す。
type MoodValue string

const (
	MoodHappy   MoodValue = "happy"
	MoodExcited MoodValue = "excited"
	MoodNeutral MoodValue = "neutral"
	MoodTired   MoodValue = "tired"
	MoodAnxious MoodValue = "anxious"
	MoodSad     MoodValue = "sad"
	MoodAngry   MoodValue = "angry"
)

// MoodValues は有効な気分の一覧。
var MoodValues = []MoodValue{
	MoodHappy, MoodExcited, MoodNeutral, MoodTired, MoodAnxious, MoodSad, MoodAngry,
}

// IsValid は有効な気分かを返す。
func (m MoodValue) IsValid() bool {
	for _, v := range MoodValues {
		if m == v {
			return true
		}
	}
	return false
}

// MoodDateLayout は気分記録の日付フォーマット。
const MoodDateLayout = "2006-01-02"

// Mood はユーザーの1日1件の気分記録を表す。
type Mood struct {
	ID        string
	UserID    string
	Date      string // YYYY-MM-DD
	Mood      MoodValue
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
