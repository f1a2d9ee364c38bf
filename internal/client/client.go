// Package client はtwogether APIの型付きHTTPクライアントを提供する。
// 認証トークンはTokenSourceから取得し、Authorizationヘッダーに付与する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/twogether/internal/model"
)

const (
	// DefaultTimeout はHTTPリクエスト全体のタイムアウト。
	DefaultTimeout = 10 * time.Second
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// TokenSource はIdPのIDトークンを提供するインターフェース。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ProfileInput はプロフィール作成・更新で送信する表示用の値。
type ProfileInput struct {
	DisplayName *string `json:"displayName,omitempty"`
	Email       *string `json:"email,omitempty"`
	AvatarRef   *string `json:"avatarRef,omitempty"`
}

// Profile はGET /meのレスポンス。
type Profile struct {
	UID            string    `json:"uid"`
	RelationshipID *string   `json:"relationshipId"`
	DisplayName    *string   `json:"displayName"`
	Email          *string   `json:"email"`
	AvatarRef      *string   `json:"avatarRef"`
	CreatedAt      time.Time `json:"createdAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// LinkResult はPOST /link-partnerのレスポンス。
type LinkResult struct {
	RelationshipID string `json:"relationshipId"`
	Linked         bool   `json:"linked"`
}

// Partner はカップル情報に含まれる相手の表示用プロフィール。
type Partner struct {
	UID         string  `json:"uid"`
	DisplayName *string `json:"displayName"`
	Email       *string `json:"email"`
	AvatarRef   *string `json:"avatarRef"`
}

// Couple はGET /coupleのレスポンス。
type Couple struct {
	ID              string     `json:"id"`
	MemberIDs       []string   `json:"memberIds"`
	Partner         *Partner   `json:"partner"`
	AnniversaryDate time.Time  `json:"anniversaryDate"`
	NextPlannedDate *time.Time `json:"nextPlannedDate"`
	DaysTogether    int        `json:"daysTogether"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// errorBody はAPIの統一エラーフォーマット。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Field    string `json:"field"`
}

// Client はtwogether APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	tokens     TokenSource
}

// New はClientの新しいインスタンスを生成する。
// httpClientがnilの場合はDefaultTimeoutを設定したクライアントを使用する。
func New(baseURL string, tokens TokenSource, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
	}
}

// ProvisionAccount はログイン時にプロフィールを作成または更新する。
// 結果は "created" または "updated"。
func (c *Client) ProvisionAccount(ctx context.Context, in ProfileInput) (string, error) {
	var out struct {
		Result string `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/provision-account", in, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// GetProfile は呼び出し元のプロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkPartner はメールアドレスで指定したパートナーと連携する。
// anniversaryがnilの場合はサーバー側で連携時刻が使われる。
func (c *Client) LinkPartner(ctx context.Context, partnerEmail string, anniversary *time.Time) (*LinkResult, error) {
	body := map[string]string{"partnerEmail": partnerEmail}
	if anniversary != nil {
		body["anniversaryDate"] = anniversary.Format("2006-01-02")
	}

	var out LinkResult
	if err := c.do(ctx, http.MethodPost, "/link-partner", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCouple はカップル情報を取得する。
func (c *Client) GetCouple(ctx context.Context) (*Couple, error) {
	var out Couple
	if err := c.do(ctx, http.MethodGet, "/couple", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do はリクエストを送信し、2xxの場合はoutにデコードする。
// 2xx以外でエラーボディを解釈できた場合は*model.APIErrorを返す。
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("IDトークンの取得に失敗しました: %w", err)
	}
	if token == "" {
		return model.NewUnauthenticatedError()
	}

	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// decodeError はエラーレスポンスを*model.APIErrorに変換する。
func decodeError(status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Code == "" {
		return &StatusError{StatusCode: status}
	}
	return &model.APIError{
		Code:     eb.Code,
		Message:  eb.Message,
		Category: eb.Category,
		Action:   eb.Action,
		Field:    eb.Field,
	}
}

// StatusError は統一フォーマットでないエラーレスポンスを表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("APIがステータス %d を返しました", e.StatusCode)
}

// IsStatus はerrが指定ステータスのStatusErrorかを判定する。
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == status
}
