package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFlow(t *testing.T) {
	authed := Session{UserID: "u1", Email: "a@example.com"}
	onboarded := authed
	onboarded.OnboardingComplete = true

	tests := []struct {
		name   string
		status Status
		sess   Session
		want   Flow
	}{
		{"initializing wins over everything", StatusInitializing, onboarded, FlowLoading},
		{"ready unauthenticated", StatusReady, Session{}, FlowUnauthenticated},
		{"ready authenticated not onboarded", StatusReady, authed, FlowOnboarding},
		{"ready authenticated onboarded", StatusReady, onboarded, FlowMain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveFlow(tt.status, tt.sess))
		})
	}
}

func TestResolveFlowIsPure(t *testing.T) {
	s := Session{UserID: "u1", OnboardingComplete: true}
	first := ResolveFlow(StatusReady, s)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ResolveFlow(StatusReady, s))
	}
}

func TestSessionAuthenticated(t *testing.T) {
	assert.False(t, Session{}.Authenticated())
	assert.False(t, Session{Email: "a@example.com"}.Authenticated())
	assert.True(t, Session{UserID: "u1"}.Authenticated())
}

func TestSessionCloneIsIndependent(t *testing.T) {
	orig := Session{
		UserID:  "u1",
		Profile: Profile{"name": "Ada", "prefs": map[string]any{"theme": "dark"}},
	}

	cp := orig.Clone()
	cp.Profile["name"] = "Grace"
	cp.Profile["prefs"].(map[string]any)["theme"] = "light"

	assert.Equal(t, "Ada", orig.Profile["name"])
	assert.Equal(t, "dark", orig.Profile["prefs"].(map[string]any)["theme"])
}

func TestProviderSessionValid(t *testing.T) {
	assert.False(t, ProviderSession{}.Valid())
	assert.True(t, ProviderSession{AccessToken: "tok"}.Valid())
	assert.True(t, ProviderSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}.Valid())
	assert.False(t, ProviderSession{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Hour)}.Valid())
}

func TestSnapshotExcludesProviderTokens(t *testing.T) {
	s := Session{
		UserID: "u1",
		Email:  "a@example.com",
		Provider: ProviderSession{
			AccessToken:  "secret-access",
			RefreshToken: "secret-refresh",
		},
	}

	data, err := json.Marshal(SnapshotOf(s))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-access")
	assert.NotContains(t, string(data), "secret-refresh")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := Session{
		UserID:             "u1",
		Email:              "a@example.com",
		Profile:            Profile{"name": "Ada"},
		OnboardingComplete: true,
	}

	data, err := json.Marshal(SnapshotOf(s))
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.False(t, snap.Empty())

	got := snap.Session()
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, s.Email, got.Email)
	assert.True(t, s.Profile.Equal(got.Profile))
	assert.True(t, got.OnboardingComplete)
	assert.Empty(t, got.Provider.AccessToken)
}

func TestSnapshotEmpty(t *testing.T) {
	assert.True(t, Snapshot{}.Empty())
	assert.False(t, Snapshot{UserID: "u1"}.Empty())
}
