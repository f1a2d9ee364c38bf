// Package session はクライアント側のサインイン状態を管理する。
// IdPのセッション変更を購読し、アカウント作成とプロフィール取得を行って
// 連携状態を含むビューを購読者に配信する。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hitoshi/twogether/internal/client"
)

// State はセッションのライフサイクル状態を表す。
type State int

const (
	StateUninitialized State = iota
	StateObserving
	StateResolved
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateObserving:
		return "observing"
	case StateResolved:
		return "resolved"
	case StateIdle:
		return "idle"
	}
	return "unknown"
}

// ErrSignedOut はサインインしていない状態でRefreshが呼ばれた場合のエラー。
var ErrSignedOut = errors.New("サインインしていません")

// ErrAlreadyStarted はStartが二度呼ばれた場合のエラー。
var ErrAlreadyStarted = errors.New("セッションは既に開始されています")

// User はIdPから通知されるサインイン中のユーザー。
type User struct {
	UID         string
	DisplayName *string
	Email       *string
	AvatarRef   *string
}

// IdentityProvider はIdPのセッション変更通知とトークン取得を提供する。
// OnSessionChangeは購読解除関数を返す。サインアウト時はnilが通知される。
type IdentityProvider interface {
	client.TokenSource
	OnSessionChange(fn func(*User)) (unsubscribe func() error)
}

// Backend はセッションが利用するAPI操作。
type Backend interface {
	ProvisionAccount(ctx context.Context, in client.ProfileInput) (string, error)
	GetProfile(ctx context.Context) (*client.Profile, error)
}

// View は購読者に配信される統合ビュー。
// サインアウト時はゼロ値。
type View struct {
	UID         string
	CoupleID    *string
	DisplayName *string
	Email       *string
	AvatarRef   *string
	Err         error
}

// SignedIn はビューがサインイン中のユーザーを表すかを返す。
func (v View) SignedIn() bool { return v.UID != "" }

// Linked はパートナーと連携済みかを返す。
func (v View) Linked() bool { return v.CoupleID != nil && *v.CoupleID != "" }

// Service はセッションサービス。
type Service struct {
	provider IdentityProvider
	backend  Backend
	logger   *slog.Logger

	// handleMu は通知処理とRefreshを直列化する。
	handleMu sync.Mutex

	mu          sync.Mutex
	ctx         context.Context
	state       State
	view        View
	user        *User
	generation  uint64
	unsubscribe func() error
	closed      bool
	subs        map[int]func(View)
	nextSubID   int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(provider IdentityProvider, backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		backend:  backend,
		logger:   logger,
		subs:     make(map[int]func(View)),
	}
}

// Start はIdPのセッション変更の購読を開始する。
// ctxは通知処理中のネットワーク呼び出しに使われる。
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized || s.closed {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx = ctx
	s.state = StateObserving
	s.mu.Unlock()

	unsub := s.provider.OnSessionChange(s.handle)

	s.mu.Lock()
	s.unsubscribe = unsub
	s.mu.Unlock()
	return nil
}

// State は現在の状態を返す。
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot は最新のビューを返す。
func (s *Service) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Subscribe はビュー更新の購読者を登録する。戻り値の関数で購読を解除する。
func (s *Service) Subscribe(fn func(View)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Refresh はプロフィールを再取得してビューを更新する。
// パートナー連携の直後に連携状態を反映するために使う。
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	user := s.user
	gen := s.generation
	s.mu.Unlock()
	if user == nil {
		return ErrSignedOut
	}

	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	profile, err := s.backend.GetProfile(ctx)
	if err != nil {
		s.logger.Warn("プロフィールの再取得に失敗しました",
			slog.String("uid", user.UID),
			slog.String("error", err.Error()),
		)
		s.resolve(gen, View{UID: user.UID, Err: err}, StateObserving)
		return err
	}
	s.resolve(gen, viewFromProfile(profile), StateResolved)
	return nil
}

// Close は購読を解除する。購読解除のエラーは無視する。
func (s *Service) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.closed = true
	s.generation++
	s.mu.Unlock()

	if unsub != nil {
		_ = unsub()
	}
}

// handle はIdPからの通知を処理する。
// 世代番号を先に進めるため、処理待ちの間に届いた新しい通知が古い結果を無効にする。
func (s *Service) handle(user *User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.user = user
	ctx := s.ctx
	s.mu.Unlock()

	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if user == nil {
		s.resolve(gen, View{}, StateIdle)
		return
	}
	if !s.current(gen) {
		return
	}

	if _, err := s.backend.ProvisionAccount(ctx, client.ProfileInput{
		DisplayName: user.DisplayName,
		Email:       user.Email,
		AvatarRef:   user.AvatarRef,
	}); err != nil {
		s.logger.Error("アカウントの作成に失敗しました",
			slog.String("uid", user.UID),
			slog.String("error", err.Error()),
		)
		s.resolve(gen, View{UID: user.UID, Err: err}, StateObserving)
		return
	}

	profile, err := s.backend.GetProfile(ctx)
	if err != nil {
		s.logger.Error("プロフィールの取得に失敗しました",
			slog.String("uid", user.UID),
			slog.String("error", err.Error()),
		)
		s.resolve(gen, View{UID: user.UID, Err: err}, StateObserving)
		return
	}

	s.resolve(gen, viewFromProfile(profile), StateResolved)
}

func (s *Service) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// resolve は世代が最新の場合のみビューを更新し、購読者へ配信する。
// 購読者はロックの外で呼び出す。
func (s *Service) resolve(gen uint64, view View, state State) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("古いセッション通知の結果を破棄しました")
		return
	}
	s.view = view
	s.state = state
	subs := make([]func(View), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(view)
	}
}

func viewFromProfile(p *client.Profile) View {
	return View{
		UID:         p.UID,
		CoupleID:    p.RelationshipID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		AvatarRef:   p.AvatarRef,
	}
}
