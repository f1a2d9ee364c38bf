// Package auth は外部IdPが発行したIDトークンの検証を提供する。
// サーバーはトークンを発行せず、署名・発行者・audience・有効期限を検証するのみ。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/twogether/internal/model"
)

const (
	// DefaultIssuerPrefix はFirebase形式のIDトークンの発行者プレフィックス。
	DefaultIssuerPrefix = "https://securetoken.google.com/"

	// DefaultJWKSURL はFirebase形式のIDトークン署名鍵の公開先。
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	maxUIDLength = 128
	clockLeeway  = 30 * time.Second
)

// Identity は検証済みトークンから得られる呼び出し元の情報。
// 永続化せず、リクエストごとに再計算する。
type Identity struct {
	UID   string
	Email string
	// EmailVerified はIdPがEmailの所有を確認済みかどうか。
	EmailVerified bool
}

// TokenVerifier はIDトークンを検証するインターフェース。
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	ProjectID       string
	Issuer          string // 空の場合は DefaultIssuerPrefix + ProjectID
	JWKSURL         string // 空の場合は DefaultJWKSURL
	RefreshInterval time.Duration
	HTTPClient      *http.Client
}

// idTokenClaims はIDトークンのクレーム。
type idTokenClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// Verifier はRS256署名のIDトークンをJWKSの公開鍵で検証する。
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	stop    func()
}

// NewVerifier はJWKSを取得してVerifierを生成する。
// 鍵はRefreshIntervalごとにバックグラウンドで更新され、未知のkidを受けた場合も再取得する。
// ctxがキャンセルされるかCloseが呼ばれるとバックグラウンド更新を停止する。
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("auth project id is required")
	}
	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:    ctx,
		Client: cfg.HTTPClient,
		RefreshErrorHandler: func(err error) {
			slog.Warn("failed to refresh JWKS",
				slog.String("jwks_url", jwksURL),
				slog.String("error", err.Error()),
			)
		},
		RefreshInterval:   refresh,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	v := NewVerifierWithKeyfunc(jwks.Keyfunc, issuerFor(cfg), cfg.ProjectID)
	v.stop = jwks.EndBackground
	return v, nil
}

// NewVerifierWithKeyfunc は任意の鍵関数でVerifierを生成する。
func NewVerifierWithKeyfunc(kf jwt.Keyfunc, issuer, audience string) *Verifier {
	return &Verifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockLeeway),
		),
		stop: func() {},
	}
}

// Verify はトークンを検証し、呼び出し元のIdentityを返す。
// 失敗理由（期限切れ・改ざん・audience不一致・未知の鍵）はログにのみ残し、
// 呼び出し側にはINVALID_CREDENTIALとして返す。
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, model.NewUnauthenticatedError()
	}

	claims := &idTokenClaims{}
	token, err := v.parser.ParseWithClaims(rawToken, claims, v.keyfunc)
	if err != nil || !token.Valid {
		slog.DebugContext(ctx, "token verification failed", slog.String("reason", verifyFailureReason(err)))
		return nil, model.NewInvalidCredentialError()
	}

	if claims.Subject == "" || len(claims.Subject) > maxUIDLength {
		slog.DebugContext(ctx, "token verification failed", slog.String("reason", "invalid subject"))
		return nil, model.NewInvalidCredentialError()
	}

	return &Identity{
		UID:           claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// Close はJWKSのバックグラウンド更新を停止する。
func (v *Verifier) Close() {
	v.stop()
}

// ExtractBearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func ExtractBearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", model.NewUnauthenticatedError()
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.NewUnauthenticatedError()
	}
	return token, nil
}

func issuerFor(cfg VerifierConfig) string {
	if cfg.Issuer != "" {
		return cfg.Issuer
	}
	return DefaultIssuerPrefix + cfg.ProjectID
}

func verifyFailureReason(err error) string {
	switch {
	case err == nil:
		return "invalid token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "audience mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer mismatch"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature invalid"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return err.Error()
	}
}

// compile-time interface check
var _ TokenVerifier = (*Verifier)(nil)
