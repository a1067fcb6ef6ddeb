package ports

// Package ports defines interfaces (hexagonal ports) for the session
// lifecycle. Implementations live in internal/adapters; orchestration in
// internal/service.

import (
	"context"
	"io"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
)

// Identity is the authenticated principal returned by the identity
// provider. Adapters map provider-specific payloads into this shape.
type Identity struct {
	UserID         string // stable identifier, unique per provider account
	Email          string
	EmailConfirmed bool
	Provider       domainsession.ProviderSession
}

// AuthEventKind classifies asynchronous session-change notifications
// delivered by the identity provider.
type AuthEventKind string

const (
	// EventTokenRefreshed carries a replacement provider token bundle.
	EventTokenRefreshed AuthEventKind = "token_refreshed"
	// EventSignedOut signals the provider session was lost externally
	// (revocation, refresh failure, sign-out from another device).
	EventSignedOut AuthEventKind = "signed_out"
)

// AuthEvent is one asynchronous notification from the identity provider.
// Session is nil for EventSignedOut.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *domainsession.ProviderSession
}

// IdentityProvider wraps the external authentication service.
//
// Events delivers asynchronous session-change notifications for the life
// of the provider; the channel is closed by Close. The session controller
// is the single consumer.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (Identity, error)
	Login(ctx context.Context, email, password string) (Identity, error)
	Logout(ctx context.Context) error

	// CurrentSession returns the live provider token bundle, or nil when
	// no provider session exists.
	CurrentSession(ctx context.Context) (*domainsession.ProviderSession, error)
	// CurrentUser returns the provider's view of the signed-in user, or
	// nil when no provider session exists.
	CurrentUser(ctx context.Context) (*Identity, error)

	ResendConfirmation(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email string) error

	Events() <-chan AuthEvent
	Close() error
}

// BackendUser is the application backend's record for a user.
type BackendUser struct {
	UserID             string
	Email              string
	Profile            domainsession.Profile
	OnboardingComplete bool
	DerivedDataID      string
}

// UploadResult describes a stored derived-data artifact.
type UploadResult struct {
	DerivedDataID string
	RecordCount   int
	FeatureCount  int
}

// ProfileBackend wraps the application backend's user endpoints.
type ProfileBackend interface {
	GetUser(ctx context.Context, userID string) (BackendUser, error)
	// UpdateProfile applies a partial profile and returns the canonical
	// merged profile as stored by the backend.
	UpdateProfile(ctx context.Context, userID string, partial domainsession.Profile) (domainsession.Profile, error)
	CompleteOnboarding(ctx context.Context, userID string) error
	UploadDerivedData(ctx context.Context, userID, filename string, data io.Reader) (UploadResult, error)
}

// CredentialStore is a scoped key/value store surviving process restart.
// Implementations must tolerate absence (ok=false, nil error) and report
// corruption through the value, never by panicking.
type CredentialStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
