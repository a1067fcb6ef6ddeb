package session

// Package session contains domain-level types for the client session
// lifecycle. It is pure and free of transport/adapter concerns.

import "time"

// Status reports whether the controller has finished startup
// reconciliation. Flow routing is held until StatusReady.
type Status string

const (
	// StatusInitializing means startup reconciliation has not resolved yet.
	StatusInitializing Status = "initializing"
	// StatusReady means the controller accepts operations and the flow
	// router may make navigation decisions.
	StatusReady Status = "ready"
)

// Flow is one of the mutually exclusive top-level UI flows.
type Flow string

const (
	FlowLoading         Flow = "loading"
	FlowUnauthenticated Flow = "unauthenticated"
	FlowOnboarding      Flow = "onboarding"
	FlowMain            Flow = "main"
)

// ProviderSession is the opaque token bundle issued by the identity
// provider. It is held in memory only and never written to the
// credential store.
type ProviderSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Valid reports whether the bundle carries a usable access token.
func (p ProviderSession) Valid() bool {
	return p.AccessToken != "" && (p.ExpiresAt.IsZero() || time.Now().Before(p.ExpiresAt))
}

// Session is the authoritative in-memory record of the current
// authenticated identity and profile. The zero value means "no session".
type Session struct {
	UserID             string
	Email              string
	Profile            Profile
	OnboardingComplete bool
	Provider           ProviderSession
}

// Authenticated reports whether a user is considered logged in.
// UserID is non-empty if and only if the session is authenticated.
func (s Session) Authenticated() bool { return s.UserID != "" }

// Clone returns a deep copy so callers can hold snapshots without
// observing later mutations.
func (s Session) Clone() Session {
	cp := s
	cp.Profile = s.Profile.Clone()
	return cp
}

// Snapshot is the serialized projection of Session written to the
// credential store. The provider token bundle is deliberately excluded;
// the identity provider client manages its own token persistence.
// A snapshot is a best-effort cache and never outranks a fresh provider
// response.
type Snapshot struct {
	UserID             string    `json:"user_id"`
	Email              string    `json:"email"`
	Profile            Profile   `json:"profile,omitempty"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	SavedAt            time.Time `json:"saved_at"`
}

// SnapshotOf projects a session into its persisted form.
func SnapshotOf(s Session) Snapshot {
	return Snapshot{
		UserID:             s.UserID,
		Email:              s.Email,
		Profile:            s.Profile.Clone(),
		OnboardingComplete: s.OnboardingComplete,
		SavedAt:            time.Now().UTC(),
	}
}

// Session rehydrates a provisional session from a snapshot. The provider
// bundle is left empty; it is re-established by the identity provider.
func (sn Snapshot) Session() Session {
	return Session{
		UserID:             sn.UserID,
		Email:              sn.Email,
		Profile:            sn.Profile.Clone(),
		OnboardingComplete: sn.OnboardingComplete,
	}
}

// Empty reports whether the snapshot carries no identity.
func (sn Snapshot) Empty() bool { return sn.UserID == "" }

// ResolveFlow is the pure projection from controller state to the mounted
// flow. Rules apply in order; no other inputs affect the decision.
func ResolveFlow(status Status, s Session) Flow {
	switch {
	case status != StatusReady:
		return FlowLoading
	case !s.Authenticated():
		return FlowUnauthenticated
	case !s.OnboardingComplete:
		return FlowOnboarding
	default:
		return FlowMain
	}
}
