package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/twogether/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type staticToken struct {
	token string
	err   error
}

func (s staticToken) Token(ctx context.Context) (string, error) {
	return s.token, s.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	return New(server.URL+"/", staticToken{token: "tok-1"}, server.Client(), newTestLogger(&buf)), &buf
}

func TestNew_DefaultHTTPClientHasTimeout(t *testing.T) {
	c := New("http://example.invalid", staticToken{}, nil, nil)
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
	if c.baseURL != "http://example.invalid" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestClient_ProvisionAccount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/provision-account" {
			t.Errorf("リクエスト = %s %s, want POST /provision-account", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("ボディのデコードに失敗: %v", err)
		}
		if body["displayName"] != "Aki" {
			t.Errorf("displayName = %v, want Aki", body["displayName"])
		}
		if _, ok := body["avatarRef"]; ok {
			t.Error("未指定のavatarRefは送信されてはならない")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"result": "created"})
	})

	name := "Aki"
	got, err := c.ProvisionAccount(context.Background(), ProfileInput{DisplayName: &name})
	if err != nil {
		t.Fatalf("ProvisionAccount がエラーを返した: %v", err)
	}
	if got != "created" {
		t.Errorf("result = %q, want created", got)
	}
}

func TestClient_GetProfile(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/me" {
			t.Errorf("リクエスト = %s %s, want GET /me", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Error("GETリクエストにContent-Typeを付与してはならない")
		}
		w.Write([]byte(`{"uid":"u1","relationshipId":"c-1","displayName":"Aki","email":"a@x.com","avatarRef":null,
			"createdAt":"2026-10-01T00:00:00Z","lastSeenAt":"2026-10-17T09:30:00Z"}`))
	})

	p, err := c.GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile がエラーを返した: %v", err)
	}
	if p.UID != "u1" || p.RelationshipID == nil || *p.RelationshipID != "c-1" {
		t.Errorf("プロフィール = %+v", p)
	}
	if p.AvatarRef != nil {
		t.Errorf("AvatarRef = %v, want nil", *p.AvatarRef)
	}
	if !p.LastSeenAt.Equal(time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("LastSeenAt = %v", p.LastSeenAt)
	}
}

func TestClient_LinkPartner(t *testing.T) {
	tests := []struct {
		name        string
		anniversary *time.Time
		wantDate    string
	}{
		{name: "記念日あり", anniversary: timePtr(time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)), wantDate: "2025-02-14"},
		{name: "記念日なし", anniversary: nil, wantDate: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/link-partner" {
					t.Errorf("path = %s", r.URL.Path)
				}
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["partnerEmail"] != "b@x.com" {
					t.Errorf("partnerEmail = %q", body["partnerEmail"])
				}
				if body["anniversaryDate"] != tt.wantDate {
					t.Errorf("anniversaryDate = %q, want %q", body["anniversaryDate"], tt.wantDate)
				}
				w.Write([]byte(`{"relationshipId":"c-9","linked":true}`))
			})

			res, err := c.LinkPartner(context.Background(), "b@x.com", tt.anniversary)
			if err != nil {
				t.Fatalf("LinkPartner がエラーを返した: %v", err)
			}
			if res.RelationshipID != "c-9" || !res.Linked {
				t.Errorf("結果 = %+v", res)
			}
		})
	}
}

func TestClient_GetCouple(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"c-1","memberIds":["u1","u2"],"partner":{"uid":"u2","displayName":"Ren"},
			"anniversaryDate":"2026-10-07T00:00:00Z","nextPlannedDate":null,"daysTogether":10,
			"createdAt":"2026-10-07T00:00:00Z"}`))
	})

	got, err := c.GetCouple(context.Background())
	if err != nil {
		t.Fatalf("GetCouple がエラーを返した: %v", err)
	}
	if got.ID != "c-1" || len(got.MemberIDs) != 2 || got.DaysTogether != 10 {
		t.Errorf("カップル = %+v", got)
	}
	if got.Partner == nil || got.Partner.UID != "u2" {
		t.Errorf("Partner = %+v", got.Partner)
	}
	if got.NextPlannedDate != nil {
		t.Error("NextPlannedDate は nil であるべき")
	}
}

func TestClient_ErrorResponseDecodesAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"PARTNER_ALREADY_LINKED","message":"m","category":"partner","action":"a"}`))
	})

	_, err := c.LinkPartner(context.Background(), "b@x.com", nil)
	if !model.IsCode(err, model.ErrCodePartnerAlreadyLinked) {
		t.Fatalf("エラー = %v, want PARTNER_ALREADY_LINKED", err)
	}
	var apiErr *model.APIError
	errors.As(err, &apiErr)
	if apiErr.Category != "partner" || apiErr.Action != "a" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_ErrorResponseWithoutBody(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	})

	_, err := c.GetProfile(context.Background())
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("エラー = %v, want StatusError(502)", err)
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	if _, err := c.GetProfile(context.Background()); err == nil {
		t.Fatal("不正なJSONでエラーが返されるべき")
	}
}

func TestClient_TokenErrors(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	tokenErr := errors.New("idp offline")
	tests := []struct {
		name   string
		source staticToken
		check  func(t *testing.T, err error)
	}{
		{
			name:   "トークン取得エラー",
			source: staticToken{err: tokenErr},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, tokenErr) {
					t.Errorf("エラー = %v, want wrap of %v", err, tokenErr)
				}
			},
		},
		{
			name:   "空トークン",
			source: staticToken{token: ""},
			check: func(t *testing.T, err error) {
				if !model.IsCode(err, model.ErrCodeUnauthenticated) {
					t.Errorf("エラー = %v, want UNAUTHENTICATED", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(server.URL, tt.source, server.Client(), nil)
			_, err := c.GetProfile(context.Background())
			tt.check(t, err)
		})
	}
	if called {
		t.Error("トークンが無い場合はリクエストを送信してはならない")
	}
}

func TestClient_TransportErrorIsLogged(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var buf bytes.Buffer
	c := New(url, staticToken{token: "tok"}, &http.Client{Timeout: time.Second}, newTestLogger(&buf))
	if _, err := c.GetCouple(context.Background()); err == nil {
		t.Fatal("接続できない場合はエラーが返されるべき")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"path":"/couple"`)) {
		t.Errorf("ログにpathが含まれていない: %s", buf.String())
	}
}

func timePtr(t time.Time) *time.Time { return &t }
