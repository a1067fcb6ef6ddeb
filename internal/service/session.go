package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domainsession "github.com/attuned-ai/attuned/internal/domain/session"
	apperrors "github.com/attuned-ai/attuned/internal/errors"
	"github.com/attuned-ai/attuned/internal/observability/statsd"
	"github.com/attuned-ai/attuned/internal/ports"
)

const (
	// defaultInitTimeout bounds how long startup waits for the credential
	// store before proceeding unauthenticated.
	defaultInitTimeout = 2 * time.Second
	// defaultStoreKey is the credential store key for the session snapshot.
	defaultStoreKey = "session.snapshot"
	// eventApplyTimeout bounds the write-through when applying a provider
	// notification.
	eventApplyTimeout = 10 * time.Second
)

// State is an immutable snapshot of controller state handed to observers.
// Err is the last operation error, if any; it never gates flow routing.
type State struct {
	Status  domainsession.Status
	Session domainsession.Session
	Err     error
}

// SessionControllerOptions groups dependencies for SessionController.
type SessionControllerOptions struct {
	Identity ports.IdentityProvider
	Backend  ports.ProfileBackend
	Store    ports.CredentialStore
	Logger   *slog.Logger
	Metrics  statsd.Sink
	// InitTimeout overrides the startup race budget. Defaults to 2s.
	InitTimeout time.Duration
	// StoreKey overrides the snapshot key in the credential store.
	StoreKey string
}

// SessionController owns the authoritative in-memory Session and
// reconciles it across three asynchronous sources: the credential store
// snapshot, the identity provider (including its async notifications),
// and the backend profile. It is the only writer of session state.
//
// Lifecycle: NewSessionController → Initialize → operations → Close.
type SessionController struct {
	identity    ports.IdentityProvider
	backend     ports.ProfileBackend
	store       ports.CredentialStore
	logger      *slog.Logger
	metrics     statsd.Sink
	initTimeout time.Duration
	storeKey    string

	// opMu serializes every session mutation, imperative or
	// event-driven, so a merge-then-write sequence for one operation
	// completes before the next is applied.
	opMu sync.Mutex

	stateMu sync.RWMutex
	status  domainsession.Status
	sess    domainsession.Session
	lastErr error

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int

	initOnce sync.Once
	initErr  error

	refresh singleflight.Group

	lifeCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSessionController constructs a controller. It does not touch any
// collaborator until Initialize.
func NewSessionController(opts SessionControllerOptions) (*SessionController, error) {
	if opts.Identity == nil {
		return nil, apperrors.Validation("identity provider is required")
	}
	if opts.Backend == nil {
		return nil, apperrors.Validation("profile backend is required")
	}
	if opts.Store == nil {
		return nil, apperrors.Validation("credential store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics statsd.Sink = statsd.Nop{}
	if opts.Metrics != nil {
		metrics = opts.Metrics
	}
	initTimeout := opts.InitTimeout
	if initTimeout <= 0 {
		initTimeout = defaultInitTimeout
	}
	storeKey := opts.StoreKey
	if storeKey == "" {
		storeKey = defaultStoreKey
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionController{
		identity:    opts.Identity,
		backend:     opts.Backend,
		store:       opts.Store,
		logger:      logger,
		metrics:     metrics,
		initTimeout: initTimeout,
		storeKey:    storeKey,
		status:      domainsession.StatusInitializing,
		subs:        make(map[int]chan struct{}),
		lifeCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// Initialize runs startup reconciliation exactly once per controller
// lifetime. Subsequent calls return the first result without re-running.
//
// The credential store read races a fixed timeout: whichever resolves
// first determines the provisional session and the loser is discarded. A
// stalled store must never hold the UI past the budget, and the read is
// not aborted on timeout (the store may not support cancellation); its
// late result is simply ignored.
func (c *SessionController) Initialize(ctx context.Context) error {
	c.initOnce.Do(func() { c.initErr = c.initialize(ctx) })
	return c.initErr
}

func (c *SessionController) initialize(ctx context.Context) error {
	start := time.Now()

	// Buffered so the late loser's send never blocks its goroutine.
	snapCh := make(chan *domainsession.Snapshot, 1)
	go func() { snapCh <- c.readSnapshot(c.lifeCtx) }()

	timer := time.NewTimer(c.initTimeout)
	defer timer.Stop()

	var provisional domainsession.Session
	outcome := "timeout"
	select {
	case snap := <-snapCh:
		if snap != nil && !snap.Empty() {
			provisional = snap.Session()
			outcome = "snapshot"
		} else {
			outcome = "empty"
		}
	case <-timer.C:
		c.logger.Warn("credential store read exceeded startup budget, continuing unauthenticated",
			"timeout", c.initTimeout)
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeCanceled, "initialize canceled")
	}

	c.stateMu.Lock()
	c.sess = provisional
	c.status = domainsession.StatusReady
	c.stateMu.Unlock()
	c.notify()

	c.metrics.Count("session.init", 1, map[string]string{"outcome": outcome})
	c.metrics.Timing("session.init.duration", time.Since(start), nil)

	c.wg.Add(1)
	go c.consumeEvents()

	c.logger.Info("session controller ready",
		"authenticated", provisional.Authenticated(), "outcome", outcome)
	return nil
}

// readSnapshot loads the persisted snapshot. Absence, store failure, and
// corruption all collapse to nil: the snapshot is a best-effort cache and
// none of those conditions may surface to the caller.
func (c *SessionController) readSnapshot(ctx context.Context) *domainsession.Snapshot {
	data, ok, err := c.store.Get(ctx, c.storeKey)
	if err != nil {
		c.logger.Warn("credential store read failed", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var snap domainsession.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("discarding corrupt session snapshot", "error", err)
		return nil
	}
	return &snap
}

// State returns a copy of the current controller state.
func (c *SessionController) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return State{Status: c.status, Session: c.sess.Clone(), Err: c.lastErr}
}

// Session returns a copy of the current session.
func (c *SessionController) Session() domainsession.Session {
	return c.State().Session
}

// Signup creates a provider account and establishes a session. The
// initial backend profile sync is best effort: a transient backend
// failure must not block a fresh account, and UpdateProfile retries the
// sync later.
func (c *SessionController) Signup(ctx context.Context, email, password string, seed domainsession.Profile) (domainsession.Session, error) {
	if err := c.requireReady(); err != nil {
		return domainsession.Session{}, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	id, err := c.identity.SignUp(ctx, email, password, map[string]any(seed))
	if err != nil {
		c.recordErr(err)
		c.metrics.Count("session.signup", 1, map[string]string{"result": "error"})
		return domainsession.Session{}, err
	}

	next := domainsession.Session{
		UserID:   id.UserID,
		Email:    id.Email,
		Profile:  seed.Clone(),
		Provider: id.Provider,
	}
	if next.Profile == nil {
		next.Profile = domainsession.Profile{}
	}

	if canonical, syncErr := c.backend.UpdateProfile(ctx, id.UserID, seed); syncErr != nil {
		c.logger.Warn("initial profile sync failed, will retry on next update",
			"user_id", id.UserID, "error", syncErr)
		c.metrics.Count("session.profile_sync", 1, map[string]string{"result": "error"})
	} else if canonical != nil {
		next.Profile = canonical
	}

	c.commit(ctx, next)
	c.recordErr(nil)
	c.metrics.Count("session.signup", 1, map[string]string{"result": "ok"})
	return next.Clone(), nil
}

// Login authenticates against the identity provider and hydrates the
// profile from the backend. Authentication success and profile
// availability are independent: a backend outage degrades to an empty
// profile rather than blocking a returning user.
func (c *SessionController) Login(ctx context.Context, email, password string) (domainsession.Session, error) {
	if err := c.requireReady(); err != nil {
		return domainsession.Session{}, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	id, err := c.identity.Login(ctx, email, password)
	if err != nil {
		c.recordErr(err)
		c.metrics.Count("session.login", 1, map[string]string{"result": "error"})
		return domainsession.Session{}, err
	}

	next := domainsession.Session{
		UserID:   id.UserID,
		Email:    id.Email,
		Profile:  domainsession.Profile{},
		Provider: id.Provider,
	}
	if bu, fetchErr := c.backend.GetUser(ctx, id.UserID); fetchErr != nil {
		c.logger.Warn("profile fetch failed during login, continuing with empty profile",
			"user_id", id.UserID, "error", fetchErr)
		c.metrics.Count("session.profile_fetch", 1, map[string]string{"result": "error"})
	} else {
		if bu.Profile != nil {
			next.Profile = bu.Profile
		}
		next.OnboardingComplete = bu.OnboardingComplete
	}

	c.commit(ctx, next)
	c.recordErr(nil)
	c.metrics.Count("session.login", 1, map[string]string{"result": "ok"})
	return next.Clone(), nil
}

// Logout clears local state first and unconditionally: the user's intent
// is honored on the device even when the provider sign-out cannot be
// confirmed. A stale remote session is the lesser failure.
func (c *SessionController) Logout(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.commit(ctx, domainsession.Session{})
	if err := c.identity.Logout(ctx); err != nil {
		c.logger.Warn("provider sign-out failed after local logout", "error", err)
	}
	c.recordErr(nil)
	c.metrics.Count("session.logout", 1, nil)
	return nil
}

// UpdateProfile merges a partial profile through the backend. The merge
// is atomic: on any failure the in-memory profile is untouched.
func (c *SessionController) UpdateProfile(ctx context.Context, partial domainsession.Profile) (domainsession.Profile, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cur := c.currentSession()
	if !cur.Authenticated() {
		return nil, apperrors.NotAuthenticated("update profile requires an active session")
	}

	canonical, err := c.backend.UpdateProfile(ctx, cur.UserID, partial)
	if err != nil {
		c.recordErr(err)
		c.metrics.Count("session.profile_update", 1, map[string]string{"result": "error"})
		return nil, err
	}

	next := cur
	if canonical != nil {
		next.Profile = canonical
	} else {
		next.Profile = cur.Profile.Merge(partial)
	}
	c.commit(ctx, next)
	c.recordErr(nil)
	c.metrics.Count("session.profile_update", 1, map[string]string{"result": "ok"})
	return next.Profile.Clone(), nil
}

// RefreshUser re-fetches the canonical profile and onboarding flag from
// the backend, overwriting local copies. Best effort: failures are logged
// and swallowed. Concurrent callers share a single flight.
func (c *SessionController) RefreshUser(ctx context.Context) {
	if c.requireReady() != nil {
		return
	}
	_, _, _ = c.refresh.Do("refresh-user", func() (any, error) {
		c.opMu.Lock()
		defer c.opMu.Unlock()

		cur := c.currentSession()
		if !cur.Authenticated() {
			return nil, nil
		}
		bu, err := c.backend.GetUser(ctx, cur.UserID)
		if err != nil {
			c.logger.Debug("background profile refresh failed", "user_id", cur.UserID, "error", err)
			return nil, nil
		}

		next := cur
		next.Profile = bu.Profile
		if next.Profile == nil {
			next.Profile = domainsession.Profile{}
		}
		next.OnboardingComplete = bu.OnboardingComplete
		c.commit(ctx, next)
		return nil, nil
	})
}

// CompleteOnboarding marks onboarding done, backend first. The local flag
// only advances on a confirmed backend write so the flow router never
// moves a user to the main flow on unconfirmed state.
func (c *SessionController) CompleteOnboarding(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	cur := c.currentSession()
	if !cur.Authenticated() {
		return apperrors.NotAuthenticated("complete onboarding requires an active session")
	}

	if err := c.backend.CompleteOnboarding(ctx, cur.UserID); err != nil {
		c.recordErr(err)
		c.metrics.Count("session.onboarding_complete", 1, map[string]string{"result": "error"})
		return err
	}

	next := cur
	next.OnboardingComplete = true
	c.commit(ctx, next)
	c.recordErr(nil)
	c.metrics.Count("session.onboarding_complete", 1, map[string]string{"result": "ok"})
	return nil
}

// UploadDerivedData forwards a chat-log artifact to the backend, then
// resynchronizes the profile, since the upload mutates backend state the
// controller did not itself initiate.
func (c *SessionController) UploadDerivedData(ctx context.Context, filename string, data io.Reader) (ports.UploadResult, error) {
	if err := c.requireReady(); err != nil {
		return ports.UploadResult{}, err
	}
	cur := c.Session()
	if !cur.Authenticated() {
		return ports.UploadResult{}, apperrors.NotAuthenticated("upload requires an active session")
	}

	res, err := c.backend.UploadDerivedData(ctx, cur.UserID, filename, data)
	if err != nil {
		c.recordErr(err)
		return ports.UploadResult{}, err
	}
	c.RefreshUser(ctx)
	return res, nil
}

// ResendConfirmation asks the provider to re-send the signup
// confirmation email.
func (c *SessionController) ResendConfirmation(ctx context.Context, email string) error {
	return c.identity.ResendConfirmation(ctx, email)
}

// ResetPassword starts the provider's password recovery flow.
func (c *SessionController) ResetPassword(ctx context.Context, email string) error {
	return c.identity.ResetPassword(ctx, email)
}

// Subscribe registers a coalescing change signal. The channel holds at
// most one pending notification; observers read State() for the fresh
// snapshot, so a missed intermediate state can never strand them on a
// stale one. The returned func releases the subscription.
func (c *SessionController) Subscribe() (<-chan struct{}, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan struct{}, 1)
	c.subs[id] = ch
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// Close tears down the controller: stops the event consumer, closes the
// provider subscription, and waits for goroutines to exit. Safe to call
// more than once.
func (c *SessionController) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.identity.Close()
		c.wg.Wait()
	})
	return err
}

// consumeEvents applies provider notifications for the life of the
// controller. Held by the same opMu as imperative operations, so there
// is exactly one code path writing session state.
func (c *SessionController) consumeEvents() {
	defer c.wg.Done()
	events := c.identity.Events()
	for {
		select {
		case <-c.lifeCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *SessionController) handleEvent(ev ports.AuthEvent) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, cancel := context.WithTimeout(c.lifeCtx, eventApplyTimeout)
	defer cancel()

	cur := c.currentSession()
	switch ev.Kind {
	case ports.EventSignedOut:
		if !cur.Authenticated() {
			return
		}
		c.logger.Info("provider session lost, signing out locally")
		c.commit(ctx, domainsession.Session{})
		c.metrics.Count("session.event", 1, map[string]string{"kind": "signed_out"})
	case ports.EventTokenRefreshed:
		if !cur.Authenticated() || ev.Session == nil {
			return
		}
		next := cur
		next.Provider = *ev.Session
		c.commit(ctx, next)
		c.metrics.Count("session.event", 1, map[string]string{"kind": "token_refreshed"})
	default:
		c.logger.Debug("ignoring unknown provider event", "kind", ev.Kind)
	}
}

// commit is the single state-mutation routine: every write to session
// state, imperative or event-driven, lands here. The store write-through
// is a side effect of, not a precondition for, the in-memory update, so
// memory is always at least as fresh as the persisted snapshot.
func (c *SessionController) commit(ctx context.Context, next domainsession.Session) {
	c.stateMu.Lock()
	c.sess = next.Clone()
	c.stateMu.Unlock()
	c.persist(ctx, next)
	c.notify()
}

func (c *SessionController) persist(ctx context.Context, sess domainsession.Session) {
	if !sess.Authenticated() {
		if err := c.store.Delete(ctx, c.storeKey); err != nil {
			c.logger.Warn("credential store delete failed", "error", err)
		}
		return
	}
	data, err := json.Marshal(domainsession.SnapshotOf(sess))
	if err != nil {
		c.logger.Error("encode session snapshot failed", "error", err)
		return
	}
	if err := c.store.Set(ctx, c.storeKey, data); err != nil {
		c.logger.Warn("credential store write failed", "error", err)
	}
}

func (c *SessionController) notify() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (c *SessionController) currentSession() domainsession.Session {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.sess.Clone()
}

func (c *SessionController) requireReady() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.status != domainsession.StatusReady {
		return apperrors.Internal("session controller not initialized")
	}
	return nil
}

func (c *SessionController) recordErr(err error) {
	c.stateMu.Lock()
	c.lastErr = err
	c.stateMu.Unlock()
}
