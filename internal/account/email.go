package account

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeEmail はパートナー検索用にメールアドレスを正規化する。
// 前後の空白を除去して小文字化し、ドメイン部はIDNAのASCII形式（punycode）に変換する。
// 表示用には元の値を使用し、この値は検索キーとしてのみ保存する。
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("invalid email address: %q", raw)
	}

	local, domain := email[:at], email[at+1:]
	asciiDomain, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("invalid email domain %q: %w", domain, err)
	}
	return local + "@" + asciiDomain, nil
}
