package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- mockStore: in-memory AccountStore keeping plaintext secrets ---

type storedAccount struct {
	acc    model.Account
	secret string
	seq    int
}

type mockStore struct {
	mu       sync.Mutex
	accounts map[string]*storedAccount
	seq      int
	now      func() time.Time

	decryptErr error
	updates    atomic.Int32
}

func newMockStore(now func() time.Time) *mockStore {
	return &mockStore{accounts: make(map[string]*storedAccount), now: now}
}

func (m *mockStore) Put(_ context.Context, name string, kind model.Kind, secret string, replace bool) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; ok && !replace {
		return nil, fmt.Errorf("put %q: %w", name, driven.ErrDuplicateName)
	}
	m.seq++
	now := m.now()
	m.accounts[name] = &storedAccount{
		acc: model.Account{
			ID:        fmt.Sprintf("id-%d", m.seq),
			Name:      name,
			Kind:      kind,
			Captured:  secret != "",
			CreatedAt: now,
			UpdatedAt: now,
		},
		secret: secret,
		seq:    m.seq,
	}
	acc := m.accounts[name].acc
	return &acc, nil
}

func (m *mockStore) Get(_ context.Context, name string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.accounts[name]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", name, driven.ErrNotFound)
	}
	acc := sa.acc
	return &acc, nil
}

func (m *mockStore) List(_ context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*storedAccount, 0, len(m.accounts))
	for _, sa := range m.accounts {
		all = append(all, sa)
	}
	slices.SortFunc(all, func(a, b *storedAccount) int { return a.seq - b.seq })

	out := make([]model.Account, 0, len(all))
	for _, sa := range all {
		out = append(out, sa.acc)
	}
	return out, nil
}

func (m *mockStore) UpdateSecret(ctx context.Context, name, secret string, expiresAt time.Time) (*model.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("update %q: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.accounts[name]
	if !ok {
		return nil, fmt.Errorf("update %q: %w", name, driven.ErrNotFound)
	}
	m.updates.Add(1)
	sa.secret = secret
	sa.acc.Captured = secret != ""
	sa.acc.ExpiresAt = expiresAt
	sa.acc.NeedsLogin = false
	sa.acc.UpdatedAt = m.now()
	acc := sa.acc
	return &acc, nil
}

func (m *mockStore) MarkNeedsLogin(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.accounts[name]
	if !ok {
		return driven.ErrNotFound
	}
	sa.acc.NeedsLogin = true
	return nil
}

func (m *mockStore) TouchLastUsed(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sa, ok := m.accounts[name]
	if !ok {
		return driven.ErrNotFound
	}
	now := m.now()
	sa.acc.LastUsedAt = &now
	return nil
}

func (m *mockStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[name]; !ok {
		return fmt.Errorf("delete %q: %w", name, driven.ErrNotFound)
	}
	delete(m.accounts, name)
	return nil
}

func (m *mockStore) Decrypt(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.decryptErr != nil {
		return "", m.decryptErr
	}
	sa, ok := m.accounts[name]
	if !ok {
		return "", driven.ErrNotFound
	}
	if sa.secret == "" {
		return "", driven.ErrNeedsLogin
	}
	return sa.secret, nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

// secretOf returns the stored plaintext for assertions.
func (m *mockStore) secretOf(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sa, ok := m.accounts[name]; ok {
		return sa.secret
	}
	return ""
}

// seedOAuth stores a captured oauth account directly.
func (m *mockStore) seedOAuth(name, access, refresh string, expiresAt time.Time) {
	secret, _ := model.OAuthTokens{AccessToken: access, RefreshToken: refresh}.Encode()
	_, _ = m.Put(context.Background(), name, model.KindOAuth, "", false)
	_, _ = m.UpdateSecret(context.Background(), name, secret, expiresAt)
	m.updates.Store(0)
}

// --- mockFile: in-memory CredentialFile ---

type mockFile struct {
	mu       sync.Mutex
	creds    *model.ExternalCredentials
	readErr  error
	syncErr  error
	syncs    int
	lastSync model.OAuthTokens
}

func (f *mockFile) Read(_ context.Context) (*model.ExternalCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.creds == nil {
		return nil, driven.ErrSourceFileMissing
	}
	c := *f.creds
	return &c, nil
}

func (f *mockFile) Sync(ctx context.Context, previous, next model.OAuthTokens, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.syncErr != nil {
		return false, f.syncErr
	}
	if f.creds != nil && !f.creds.BelongsTo(previous) && !f.creds.BelongsTo(next) {
		return false, nil
	}
	f.syncs++
	f.lastSync = next
	f.creds = &model.ExternalCredentials{Tokens: next, ExpiresAt: expiresAt}
	return true, nil
}

func (f *mockFile) Path() string { return "/tmp/.credentials.json" }

// --- mockRefresher: counts exchanges and rotates tokens ---

type mockRefresher struct {
	mu      sync.Mutex
	calls   atomic.Int32
	err     error
	ttl     time.Duration
	now     func() time.Time
	gate    chan struct{} // when non-nil, each exchange waits for a receive
	entered chan struct{} // signaled when an exchange starts
	granted func()        // called after a successful exchange, before returning
	seen    []string
	used    map[string]bool
}

func newMockRefresher(now func() time.Time) *mockRefresher {
	return &mockRefresher{ttl: time.Hour, now: now, used: make(map[string]bool)}
}

func (r *mockRefresher) Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error) {
	n := r.calls.Add(1)

	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen = append(r.seen, refreshToken)
	if r.err != nil {
		return nil, r.err
	}
	// Refresh tokens are single use.
	if r.used[refreshToken] {
		return nil, fmt.Errorf("reused token: %w", driven.ErrRefreshRejected)
	}
	r.used[refreshToken] = true

	if r.granted != nil {
		r.granted()
	}
	return &model.TokenGrant{
		Tokens: model.OAuthTokens{
			AccessToken:  fmt.Sprintf("at-%d", n),
			RefreshToken: fmt.Sprintf("rt-%d", n),
		},
		ExpiresAt: r.now().Add(r.ttl),
	}, nil
}

// --- fixed clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
