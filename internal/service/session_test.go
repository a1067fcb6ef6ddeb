package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/attuned-ai/attuned/internal/adapters/credstore"
	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/mocks"
	mocksession "github.com/attuned-ai/attuned/internal/mocks/session"
	"github.com/attuned-ai/attuned/internal/ports"
	"github.com/attuned-ai/attuned/internal/testutil"
)

type controllerFixture struct {
	idp     *mocksession.FakeIdentityProvider
	backend *mocksession.FakeBackend
	store   *credstore.MemoryStore
	ctrl    *SessionController
}

func newFixture(t *testing.T, opts ...func(*SessionControllerOptions)) *controllerFixture {
	t.Helper()

	f := &controllerFixture{
		idp:     mocksession.NewFakeIdentityProvider(),
		backend: mocksession.NewFakeBackend(),
		store:   credstore.NewMemoryStore(),
	}

	o := SessionControllerOptions{
		Identity: f.idp,
		Backend:  f.backend,
		Store:    f.store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range opts {
		fn(&o)
	}

	ctrl, err := NewSessionController(o)
	require.NoError(t, err)
	f.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Close() })
	return f
}

func seedSnapshot(t *testing.T, store ports.CredentialStore, sess domainsession.Session) {
	t.Helper()
	data, err := json.Marshal(domainsession.SnapshotOf(sess))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "session.snapshot", data))
}

func TestNewSessionControllerValidatesDeps(t *testing.T) {
	_, err := NewSessionController(SessionControllerOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestInitializeWithSnapshot(t *testing.T) {
	f := newFixture(t)
	seedSnapshot(t, f.store, domainsession.Session{
		UserID:             "u1",
		Email:              "a@example.com",
		Profile:            domainsession.Profile{"name": "Ada"},
		OnboardingComplete: true,
	})

	require.NoError(t, f.ctrl.Initialize(context.Background()))

	st := f.ctrl.State()
	assert.Equal(t, domainsession.StatusReady, st.Status)
	assert.Equal(t, "u1", st.Session.UserID)
	assert.True(t, st.Session.OnboardingComplete)
	assert.Equal(t, domainsession.FlowMain, domainsession.ResolveFlow(st.Status, st.Session))
}

func TestInitializeEmptyStore(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Initialize(context.Background()))

	st := f.ctrl.State()
	assert.Equal(t, domainsession.StatusReady, st.Status)
	assert.False(t, st.Session.Authenticated())
}

func TestInitializeSlowStoreHitsTimeout(t *testing.T) {
	inner := credstore.NewMemoryStore()
	seedSnapshot(t, inner, domainsession.Session{UserID: "u1", Email: "a@example.com"})
	slow := &mocksession.SlowStore{Inner: inner, Delay: 500 * time.Millisecond}

	idp := mocksession.NewFakeIdentityProvider()
	ctrl, err := NewSessionController(SessionControllerOptions{
		Identity:    idp,
		Backend:     mocksession.NewFakeBackend(),
		Store:       slow,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		InitTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	start := time.Now()
	require.NoError(t, ctrl.Initialize(context.Background()))
	elapsed := time.Since(start)

	// Timeout wins: ready within the budget, unauthenticated, and the
	// late read never flips the session afterwards.
	assert.Less(t, elapsed, 400*time.Millisecond)
	st := ctrl.State()
	assert.Equal(t, domainsession.StatusReady, st.Status)
	assert.False(t, st.Session.Authenticated())

	time.Sleep(600 * time.Millisecond)
	assert.False(t, ctrl.State().Session.Authenticated())
}

func TestInitializeFastStoreBeatsTimeout(t *testing.T) {
	f := newFixture(t)
	seedSnapshot(t, f.store, domainsession.Session{UserID: "u1", Email: "a@example.com"})

	start := time.Now()
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	assert.Less(t, time.Since(start), defaultInitTimeout)
	assert.True(t, f.ctrl.State().Session.Authenticated())
}

func TestInitializeCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Set(context.Background(), "session.snapshot", []byte("{not json")))

	require.NoError(t, f.ctrl.Initialize(context.Background()))

	st := f.ctrl.State()
	assert.Equal(t, domainsession.StatusReady, st.Status)
	assert.False(t, st.Session.Authenticated())
}

func TestInitializeRunsOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	seedSnapshot(t, f.store, domainsession.Session{UserID: "u2"})
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	assert.False(t, f.ctrl.State().Session.Authenticated())
}

func TestOperationsRequireInitialize(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}

func TestSignupEstablishesSessionAndSyncsProfile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	seed := domainsession.Profile{"name": "Ada", "source": "import"}
	sess, err := f.ctrl.Signup(context.Background(), "a@example.com", "pw", seed)
	require.NoError(t, err)

	assert.True(t, sess.Authenticated())
	assert.False(t, sess.OnboardingComplete)
	assert.Equal(t, "Ada", sess.Profile.GetString("name"))

	// Backend received the seed profile.
	bu, ok := f.backend.User(sess.UserID)
	require.True(t, ok)
	assert.Equal(t, "Ada", bu.Profile.GetString("name"))

	// Snapshot persisted.
	data, ok, err := f.store.Get(context.Background(), "session.snapshot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(data), sess.UserID)
}

func TestSignupSurvivesBackendSyncFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.UpdateProfileFunc = func(context.Context, string, domainsession.Profile) (domainsession.Profile, error) {
		return nil, apperrors.BackendSync("api down")
	}

	sess, err := f.ctrl.Signup(context.Background(), "a@example.com", "pw", domainsession.Profile{"name": "Ada"})
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	// Local seed kept even though the sync failed.
	assert.Equal(t, "Ada", sess.Profile.GetString("name"))
}

func TestSignupProviderErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.idp.SignUpFunc = func(context.Context, string, string, map[string]any) (ports.Identity, error) {
		return ports.Identity{}, apperrors.InvalidCredentials("weak password")
	}

	_, err := f.ctrl.Signup(context.Background(), "a@example.com", "pw", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.False(t, f.ctrl.State().Session.Authenticated())
	assert.Equal(t, 0, f.store.Len())
}

func TestLoginHydratesProfileFromBackend(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{
		UserID:             "user-a@example.com",
		Email:              "a@example.com",
		Profile:            domainsession.Profile{"name": "Ada"},
		OnboardingComplete: true,
	})

	sess, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	assert.Equal(t, "Ada", sess.Profile.GetString("name"))
	assert.True(t, sess.OnboardingComplete)

	st := f.ctrl.State()
	assert.Equal(t, domainsession.FlowMain, domainsession.ResolveFlow(st.Status, st.Session))
}

func TestLoginDegradesToEmptyProfileOnBackendOutage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.GetUserFunc = func(context.Context, string) (ports.BackendUser, error) {
		return ports.BackendUser{}, apperrors.BackendSync("api down")
	}

	sess, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	assert.True(t, sess.Authenticated())
	assert.Empty(t, sess.Profile)
	assert.False(t, sess.OnboardingComplete)
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.idp.LoginFunc = func(context.Context, string, string) (ports.Identity, error) {
		return ports.Identity{}, apperrors.InvalidCredentials("wrong password")
	}

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidCredentials(err))
	assert.False(t, f.ctrl.State().Session.Authenticated())
}

func TestLogoutClearsLocallyEvenWhenProviderFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, 1, f.store.Len())

	f.idp.LogoutFunc = func(context.Context) error {
		return apperrors.BackendSync("provider unreachable")
	}

	require.NoError(t, f.ctrl.Logout(context.Background()))

	assert.False(t, f.ctrl.State().Session.Authenticated())
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 1, f.idp.LogoutCalls())
}

func TestUpdateProfileMergesThroughBackend(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{
		UserID:  "user-a@example.com",
		Profile: domainsession.Profile{"name": "Ada", "city": "London"},
	})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	merged, err := f.ctrl.UpdateProfile(context.Background(), domainsession.Profile{"city": "Zurich"})
	require.NoError(t, err)

	assert.Equal(t, "Zurich", merged.GetString("city"))
	assert.Equal(t, "Ada", merged.GetString("name"))
	assert.Equal(t, "Zurich", f.ctrl.Session().Profile.GetString("city"))
}

func TestUpdateProfileAtomicOnFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{
		UserID:  "user-a@example.com",
		Profile: domainsession.Profile{"name": "Ada"},
	})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	f.backend.UpdateProfileFunc = func(context.Context, string, domainsession.Profile) (domainsession.Profile, error) {
		return nil, apperrors.BackendSync("write failed")
	}

	_, err = f.ctrl.UpdateProfile(context.Background(), domainsession.Profile{"name": "Grace"})
	require.Error(t, err)
	assert.True(t, apperrors.IsBackendSync(err))
	// In-memory profile untouched.
	assert.Equal(t, "Ada", f.ctrl.Session().Profile.GetString("name"))
}

func TestUpdateProfileRequiresAuth(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	_, err := f.ctrl.UpdateProfile(context.Background(), domainsession.Profile{"name": "Ada"})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotAuthenticated(err))
}

func TestConcurrentUpdatesBothLand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{UserID: "user-a@example.com"})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	var wg sync.WaitGroup
	updates := []domainsession.Profile{
		{"city": "Zurich"},
		{"lang": "en"},
	}
	errs := make([]error, len(updates))
	for i, p := range updates {
		wg.Add(1)
		go func(i int, p domainsession.Profile) {
			defer wg.Done()
			_, errs[i] = f.ctrl.UpdateProfile(context.Background(), p)
		}(i, p)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final := f.ctrl.Session().Profile
	assert.Equal(t, "Zurich", final.GetString("city"))
	assert.Equal(t, "en", final.GetString("lang"))
}

func TestCompleteOnboardingBackendFirst(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{UserID: "user-a@example.com"})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, f.ctrl.CompleteOnboarding(context.Background()))

	st := f.ctrl.State()
	assert.True(t, st.Session.OnboardingComplete)
	assert.Equal(t, domainsession.FlowMain, domainsession.ResolveFlow(st.Status, st.Session))

	bu, ok := f.backend.User("user-a@example.com")
	require.True(t, ok)
	assert.True(t, bu.OnboardingComplete)
}

func TestCompleteOnboardingFailureDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{UserID: "user-a@example.com"})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	f.backend.CompleteOnboardingFunc = func(context.Context, string) error {
		return apperrors.BackendSync("write failed")
	}

	err = f.ctrl.CompleteOnboarding(context.Background())
	require.Error(t, err)
	assert.False(t, f.ctrl.State().Session.OnboardingComplete)
}

func TestRefreshUserOverwritesLocalState(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{
		UserID:  "user-a@example.com",
		Profile: domainsession.Profile{"name": "Ada"},
	})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	f.backend.SeedUser(ports.BackendUser{
		UserID:             "user-a@example.com",
		Profile:            domainsession.Profile{"name": "Countess Ada"},
		OnboardingComplete: true,
	})

	f.ctrl.RefreshUser(context.Background())

	sess := f.ctrl.Session()
	assert.Equal(t, "Countess Ada", sess.Profile.GetString("name"))
	assert.True(t, sess.OnboardingComplete)
}

func TestUploadDerivedDataResyncsProfile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.backend.SeedUser(ports.BackendUser{UserID: "user-a@example.com"})
	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	res, err := f.ctrl.UploadDerivedData(context.Background(), "chatlog.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "derived-chatlog.txt", res.DerivedDataID)
	assert.Equal(t, 5, res.RecordCount)
}

func TestUploadRequiresAuth(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	_, err := f.ctrl.UploadDerivedData(context.Background(), "chatlog.txt", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsNotAuthenticated(err))
}

func TestProviderSignedOutEventClearsSession(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	f.idp.EmitEvent(ports.AuthEvent{Kind: ports.EventSignedOut})

	testutil.RequireEventually(t, func() bool {
		return !f.ctrl.State().Session.Authenticated()
	}, 2*time.Second, "session cleared after provider sign-out")
	assert.Equal(t, 0, f.store.Len())
}

func TestProviderTokenRefreshedEventUpdatesBundle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	fresh := &domainsession.ProviderSession{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	f.idp.EmitEvent(ports.AuthEvent{Kind: ports.EventTokenRefreshed, Session: fresh})

	testutil.RequireEventually(t, func() bool {
		return f.ctrl.Session().Provider.AccessToken == "fresh-access"
	}, 2*time.Second, "token bundle replaced")
	// Identity unchanged.
	assert.True(t, f.ctrl.State().Session.Authenticated())
}

func TestSignedOutEventIgnoredWhenUnauthenticated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	f.idp.EmitEvent(ports.AuthEvent{Kind: ports.EventSignedOut})
	time.Sleep(50 * time.Millisecond)

	assert.False(t, f.ctrl.State().Session.Authenticated())
}

func TestSubscribeCoalescesAndDelivers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Initialize(context.Background()))

	signal, cancel := f.ctrl.Subscribe()
	defer cancel()

	_, err := f.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("no change signal after login")
	}

	st := f.ctrl.State()
	assert.True(t, st.Session.Authenticated())
}

func TestStorePersistenceFailureDoesNotFailOperation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockCredentialStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "session.snapshot").Return(nil, false, nil)
	store.EXPECT().Set(gomock.Any(), "session.snapshot", gomock.Any()).
		Return(apperrors.Storage("disk full")).AnyTimes()

	idp := mocksession.NewFakeIdentityProvider()
	sc, err := NewSessionController(SessionControllerOptions{
		Identity: idp,
		Backend:  mocksession.NewFakeBackend(),
		Store:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })

	require.NoError(t, sc.Initialize(context.Background()))

	sess, err := sc.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, sess.Authenticated())
	// Memory is authoritative even when the write-through failed.
	assert.True(t, sc.State().Session.Authenticated())
}

func TestRestartAfterLoginRestoresSession(t *testing.T) {
	store := credstore.NewMemoryStore()

	first := newFixtureWithStore(t, store)
	require.NoError(t, first.ctrl.Initialize(context.Background()))
	first.backend.SeedUser(ports.BackendUser{
		UserID:             "user-a@example.com",
		Profile:            domainsession.Profile{"name": "Ada"},
		OnboardingComplete: true,
	})
	_, err := first.ctrl.Login(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, first.ctrl.Close())

	second := newFixtureWithStore(t, store)
	require.NoError(t, second.ctrl.Initialize(context.Background()))

	st := second.ctrl.State()
	assert.Equal(t, "user-a@example.com", st.Session.UserID)
	assert.Equal(t, domainsession.FlowMain, domainsession.ResolveFlow(st.Status, st.Session))
}

func newFixtureWithStore(t *testing.T, store *credstore.MemoryStore) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		idp:     mocksession.NewFakeIdentityProvider(),
		backend: mocksession.NewFakeBackend(),
		store:   store,
	}
	ctrl, err := NewSessionController(SessionControllerOptions{
		Identity: f.idp,
		Backend:  f.backend,
		Store:    store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	f.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Close() })
	return f
}
