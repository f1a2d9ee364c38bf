// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はクライアントが申告した表示用テキスト（表示名、目標、気分メモ）から
// HTMLを除去する。bluemondayのStrictPolicyを使用し、タグは一切通過させない。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いた上で
	// maxRunes文字に切り詰めたテキストを返す。maxRunesが0以下の場合は切り詰めない。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string, maxRunes int) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使用する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープして返すため、保存前にアンエスケープする。
// 出力はJSONで返却され、描画側でエスケープされる前提。
func (s *textSanitizer) Sanitize(raw string, maxRunes int) string {
	if raw == "" {
		return ""
	}

	cleaned := html.UnescapeString(s.policy.Sanitize(raw))
	// 合成済み形式に揃えてから文字数を数える（"か"+濁点 と "が" を同じ1文字として扱う）
	cleaned = norm.NFC.String(strings.TrimSpace(cleaned))

	if maxRunes > 0 && utf8.RuneCountInString(cleaned) > maxRunes {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxRunes]))
	}

	return cleaned
}
