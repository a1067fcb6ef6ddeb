package session

// Package session contains hand-written test doubles for the session
// ports. These are lightweight and suitable for unit tests without
// codegen; override the *Func fields to customize behavior per test.

import (
	"context"
	"io"
	"sync"
	"time"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*FakeIdentityProvider)(nil)
	_ ports.ProfileBackend   = (*FakeBackend)(nil)
	_ ports.CredentialStore  = (*SlowStore)(nil)
)

// FakeIdentityProvider simulates the hosted identity provider. Defaults
// accept any credentials; EmitEvent injects asynchronous notifications.
type FakeIdentityProvider struct {
	SignUpFunc         func(ctx context.Context, email, password string, metadata map[string]any) (ports.Identity, error)
	LoginFunc          func(ctx context.Context, email, password string) (ports.Identity, error)
	LogoutFunc         func(ctx context.Context) error
	CurrentSessionFunc func(ctx context.Context) (*domainsession.ProviderSession, error)
	CurrentUserFunc    func(ctx context.Context) (*ports.Identity, error)
	ResendFunc         func(ctx context.Context, email string) error
	ResetFunc          func(ctx context.Context, email string) error

	mu          sync.Mutex
	events      chan ports.AuthEvent
	closeOnce   sync.Once
	logoutCalls int
}

// NewFakeIdentityProvider creates a provider double with a buffered event
// channel.
func NewFakeIdentityProvider() *FakeIdentityProvider {
	return &FakeIdentityProvider{
		events: make(chan ports.AuthEvent, 16),
	}
}

func (f *FakeIdentityProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (ports.Identity, error) {
	if f.SignUpFunc != nil {
		return f.SignUpFunc(ctx, email, password, metadata)
	}
	return defaultIdentity(email), nil
}

func (f *FakeIdentityProvider) Login(ctx context.Context, email, password string) (ports.Identity, error) {
	if f.LoginFunc != nil {
		return f.LoginFunc(ctx, email, password)
	}
	return defaultIdentity(email), nil
}

func (f *FakeIdentityProvider) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	if f.LogoutFunc != nil {
		return f.LogoutFunc(ctx)
	}
	return nil
}

// LogoutCalls reports how many times Logout was invoked.
func (f *FakeIdentityProvider) LogoutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

func (f *FakeIdentityProvider) CurrentSession(ctx context.Context) (*domainsession.ProviderSession, error) {
	if f.CurrentSessionFunc != nil {
		return f.CurrentSessionFunc(ctx)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) CurrentUser(ctx context.Context) (*ports.Identity, error) {
	if f.CurrentUserFunc != nil {
		return f.CurrentUserFunc(ctx)
	}
	return nil, nil
}

func (f *FakeIdentityProvider) ResendConfirmation(ctx context.Context, email string) error {
	if f.ResendFunc != nil {
		return f.ResendFunc(ctx, email)
	}
	return nil
}

func (f *FakeIdentityProvider) ResetPassword(ctx context.Context, email string) error {
	if f.ResetFunc != nil {
		return f.ResetFunc(ctx, email)
	}
	return nil
}

func (f *FakeIdentityProvider) Events() <-chan ports.AuthEvent { return f.events }

// EmitEvent delivers an asynchronous notification to the consumer.
func (f *FakeIdentityProvider) EmitEvent(ev ports.AuthEvent) {
	f.events <- ev
}

func (f *FakeIdentityProvider) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func defaultIdentity(email string) ports.Identity {
	return ports.Identity{
		UserID:         "user-" + email,
		Email:          email,
		EmailConfirmed: true,
		Provider: domainsession.ProviderSession{
			AccessToken:  "access-" + email,
			RefreshToken: "refresh-" + email,
			TokenType:    "bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

// FakeBackend simulates the backend profile API with an in-memory user
// table. UpdateProfile applies the same shallow merge semantics as the
// real backend: top-level keys replace, null deletes.
type FakeBackend struct {
	GetUserFunc            func(ctx context.Context, userID string) (ports.BackendUser, error)
	UpdateProfileFunc      func(ctx context.Context, userID string, partial domainsession.Profile) (domainsession.Profile, error)
	CompleteOnboardingFunc func(ctx context.Context, userID string) error
	UploadFunc             func(ctx context.Context, userID, filename string, data io.Reader) (ports.UploadResult, error)

	mu    sync.Mutex
	users map[string]ports.BackendUser
}

// NewFakeBackend creates an empty backend double.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{users: make(map[string]ports.BackendUser)}
}

// SeedUser installs a backend record for a user.
func (f *FakeBackend) SeedUser(u ports.BackendUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UserID] = u
}

// User returns the stored record and whether it exists.
func (f *FakeBackend) User(userID string) (ports.BackendUser, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	return u, ok
}

func (f *FakeBackend) GetUser(ctx context.Context, userID string) (ports.BackendUser, error) {
	if f.GetUserFunc != nil {
		return f.GetUserFunc(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return ports.BackendUser{}, apperrors.BackendSyncf("user %s not found", userID)
	}
	u.Profile = u.Profile.Clone()
	return u, nil
}

func (f *FakeBackend) UpdateProfile(ctx context.Context, userID string, partial domainsession.Profile) (domainsession.Profile, error) {
	if f.UpdateProfileFunc != nil {
		return f.UpdateProfileFunc(ctx, userID, partial)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.UserID = userID
	u.Profile = u.Profile.Merge(partial)
	f.users[userID] = u
	return u.Profile.Clone(), nil
}

func (f *FakeBackend) CompleteOnboarding(ctx context.Context, userID string) error {
	if f.CompleteOnboardingFunc != nil {
		return f.CompleteOnboardingFunc(ctx, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperrors.BackendSyncf("user %s not found", userID)
	}
	u.OnboardingComplete = true
	f.users[userID] = u
	return nil
}

func (f *FakeBackend) UploadDerivedData(ctx context.Context, userID, filename string, data io.Reader) (ports.UploadResult, error) {
	if f.UploadFunc != nil {
		return f.UploadFunc(ctx, userID, filename, data)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return ports.UploadResult{}, apperrors.Wrap(err, apperrors.ErrCodeBackendSync, "read upload")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.UserID = userID
	u.DerivedDataID = "derived-" + filename
	f.users[userID] = u
	return ports.UploadResult{
		DerivedDataID: u.DerivedDataID,
		RecordCount:   len(b),
		FeatureCount:  1,
	}, nil
}

// SlowStore wraps a credential store and delays every operation, for
// exercising the startup race.
type SlowStore struct {
	Inner ports.CredentialStore
	Delay time.Duration
}

func (s *SlowStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.sleep(ctx)
	return s.Inner.Get(ctx, key)
}

func (s *SlowStore) Set(ctx context.Context, key string, value []byte) error {
	s.sleep(ctx)
	return s.Inner.Set(ctx, key, value)
}

func (s *SlowStore) Delete(ctx context.Context, key string) error {
	s.sleep(ctx)
	return s.Inner.Delete(ctx, key)
}

func (s *SlowStore) sleep(ctx context.Context) {
	if s.Delay <= 0 {
		return
	}
	t := time.NewTimer(s.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
