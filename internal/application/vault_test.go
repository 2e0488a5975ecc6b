package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
	"github.com/ericfisherdev/claude-accounts/internal/observability"
)

type vaultFixture struct {
	svc       *VaultService
	store     *mockStore
	file      *mockFile
	refresher *mockRefresher
	clock     *fakeClock
	metrics   *observability.Metrics
}

func newVaultFixture(t *testing.T) *vaultFixture {
	t.Helper()

	clock := newFakeClock()
	f := &vaultFixture{
		store:     newMockStore(clock.Now),
		file:      &mockFile{},
		refresher: newMockRefresher(clock.Now),
		clock:     clock,
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewVaultService(f.store, f.file, f.refresher, discardLogger(),
		WithClock(clock.Now),
		WithExpiryLead(5*time.Minute),
		WithMetrics(f.metrics),
	)
	return f
}

// --- scenarios ---

func TestVault_APIKeyLaunch(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	sum, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-xxxxx")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, sum.Status)

	env, err := f.svc.PrepareLaunchEnv(ctx, "perso")
	require.NoError(t, err)
	assert.Equal(t, model.LaunchEnv{model.EnvAPIKey: "sk-ant-api03-xxxxx"}, env)
	assert.Zero(t, f.refresher.calls.Load())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LaunchTotal.WithLabelValues("api_key")))

	acc, err := f.store.Get(ctx, "perso")
	require.NoError(t, err)
	require.NotNil(t, acc.LastUsedAt)
}

func TestVault_UncapturedOAuthLaunchNeedsLogin(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	sum, err := f.svc.Add(ctx, "client", model.KindOAuth, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsLogin, sum.Status)

	env, err := f.svc.PrepareLaunchEnv(ctx, "client")
	require.ErrorIs(t, err, driven.ErrNeedsLogin)
	assert.Nil(t, env)
	assert.Zero(t, f.refresher.calls.Load())
}

func TestVault_ExpiredLaunchRefreshesOnce(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Second))

	env, err := f.svc.PrepareLaunchEnv(ctx, "work")
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, model.LaunchEnv{model.EnvOAuthToken: "at-1"}, env)

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, model.OAuthTokens{AccessToken: "at-1", RefreshToken: "rt-1"}, stored)

	acc, err := f.store.Get(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(time.Hour), acc.ExpiresAt)
}

func TestVault_ExpiryAtNowCountsAsExpired(t *testing.T) {
	f := newVaultFixture(t)

	f.store.seedOAuth("edge", "at-0", "rt-0", f.clock.Now())

	_, err := f.svc.PrepareLaunchEnv(context.Background(), "edge")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestVault_ValidLaunchDoesNotRefresh(t *testing.T) {
	f := newVaultFixture(t)

	// Expiring soon is still usable; only expired triggers a refresh.
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Minute))

	env, err := f.svc.PrepareLaunchEnv(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, "at-0", env[model.EnvOAuthToken])
	assert.Zero(t, f.refresher.calls.Load())
}

func TestVault_RejectedThenCapture(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Minute))
	f.refresher.err = fmt.Errorf("invalid_grant: %w", driven.ErrRefreshRejected)

	_, err := f.svc.Refresh(ctx, "work")
	require.ErrorIs(t, err, driven.ErrRefreshRejected)

	status, err := f.svc.Status(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsLogin, status.Status)

	// Prior tokens stay in place.
	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, "rt-0", stored.RefreshToken)

	_, err = f.svc.PrepareLaunchEnv(ctx, "work")
	require.ErrorIs(t, err, driven.ErrNeedsLogin)

	f.file.creds = &model.ExternalCredentials{
		Tokens:    model.OAuthTokens{AccessToken: "at-fresh", RefreshToken: "rt-fresh"},
		ExpiresAt: f.clock.Now().Add(8 * time.Hour),
	}
	sum, err := f.svc.Capture(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, sum.Status)

	env, err := f.svc.PrepareLaunchEnv(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "at-fresh", env[model.EnvOAuthToken])
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RefreshTotal.WithLabelValues(observability.OutcomeRejected)))
}

// --- concurrency ---

func TestVault_ConcurrentRefreshSharesOneExchange(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))
	f.refresher.gate = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 4)

	var (
		wg      sync.WaitGroup
		results [2]*model.AccountSummary
		errs    [2]error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.Refresh(ctx, "work")
	}()
	<-f.refresher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.svc.Refresh(ctx, "work")
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.refresher.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, results[0].ExpiresAt, results[1].ExpiresAt)

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.Equal(t, []string{"rt-0"}, f.refresher.seen)
}

func TestVault_ConcurrentExpiredLaunchesRefreshOnce(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Second))

	const callers = 10
	var wg sync.WaitGroup
	envs := make([]model.LaunchEnv, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			envs[i], errs[i] = f.svc.PrepareLaunchEnv(ctx, "work")
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "at-1", envs[i][model.EnvOAuthToken])
	}
	assert.Equal(t, int32(1), f.refresher.calls.Load())
}

func TestVault_SequentialRefreshesUseRotatedToken(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))

	for range 3 {
		_, err := f.svc.Refresh(ctx, "work")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"rt-0", "rt-1", "rt-2"}, f.refresher.seen)
}

func TestVault_WaitingRefreshSurvivesFirstCallerCancel(t *testing.T) {
	f := newVaultFixture(t)

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))
	f.refresher.gate = make(chan struct{})
	f.refresher.entered = make(chan struct{}, 4)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	var (
		wg       sync.WaitGroup
		firstErr error
		second   *model.AccountSummary
		errSec   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.svc.Refresh(firstCtx, "work")
	}()
	<-f.refresher.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		second, errSec = f.svc.Refresh(context.Background(), "work")
	}()
	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(f.refresher.gate)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, errSec)
	require.NotNil(t, second)
	assert.Equal(t, int32(1), f.refresher.calls.Load())

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.RefreshToken)
}

// --- refresh ---

func TestVault_RefreshStoresGrantAfterCallerCancels(t *testing.T) {
	f := newVaultFixture(t)
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Minute))
	f.file.creds = &model.ExternalCredentials{Tokens: model.OAuthTokens{AccessToken: "at-0", RefreshToken: "rt-0"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.refresher.granted = cancel

	summary, err := f.svc.Refresh(ctx, "work")

	require.NoError(t, err)
	assert.Equal(t, model.StatusValid, summary.Status)

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, model.OAuthTokens{AccessToken: "at-1", RefreshToken: "rt-1"}, stored)
	assert.Equal(t, "rt-1", f.file.lastSync.RefreshToken)

	// The rotated token is the one used next.
	_, err = f.svc.Refresh(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, []string{"rt-0", "rt-1"}, f.refresher.seen)
}

func TestVault_LaunchStoresGrantAfterCallerCancels(t *testing.T) {
	f := newVaultFixture(t)
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.refresher.granted = cancel

	env, err := f.svc.PrepareLaunchEnv(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "at-1", env[model.EnvOAuthToken])

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.RefreshToken)
}


func TestVault_RefreshNetworkErrorLeavesRecord(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Minute))
	f.refresher.err = fmt.Errorf("dial: %w", driven.ErrNetwork)

	_, err := f.svc.Refresh(ctx, "work")
	require.ErrorIs(t, err, driven.ErrNetwork)

	acc, err := f.store.Get(ctx, "work")
	require.NoError(t, err)
	assert.False(t, acc.NeedsLogin)
	assert.Zero(t, f.store.updates.Load())

	_, err = f.svc.PrepareLaunchEnv(ctx, "work")
	require.ErrorIs(t, err, driven.ErrNetwork)
}

func TestVault_RefreshErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *vaultFixture)
		wantErr error
	}{
		{
			name:    "unknown account",
			setup:   func(*vaultFixture) {},
			wantErr: driven.ErrNotFound,
		},
		{
			name: "api key account",
			setup: func(f *vaultFixture) {
				_, _ = f.store.Put(context.Background(), "work", model.KindAPIKey, "sk-ant-key", false)
			},
			wantErr: driven.ErrWrongKind,
		},
		{
			name: "uncaptured",
			setup: func(f *vaultFixture) {
				_, _ = f.store.Put(context.Background(), "work", model.KindOAuth, "", false)
			},
			wantErr: driven.ErrNeedsLogin,
		},
		{
			name: "no refresh token",
			setup: func(f *vaultFixture) {
				f.store.seedOAuth("work", "at-0", "", f.clock.Now().Add(-time.Minute))
			},
			wantErr: driven.ErrNeedsLogin,
		},
		{
			name: "decryption failure",
			setup: func(f *vaultFixture) {
				f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Minute))
				f.store.decryptErr = driven.ErrDecryptionFailed
			},
			wantErr: driven.ErrDecryptionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVaultFixture(t)
			tt.setup(f)

			sum, err := f.svc.Refresh(context.Background(), "work")
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, sum)
			assert.Zero(t, f.refresher.calls.Load())
		})
	}
}

func TestVault_RefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newVaultFixture(t)
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))

	f.svc.refresher = refresherFunc(func(context.Context, string) (*model.TokenGrant, error) {
		return &model.TokenGrant{
			Tokens:    model.OAuthTokens{AccessToken: "at-new"},
			ExpiresAt: f.clock.Now().Add(time.Hour),
		}, nil
	})

	_, err := f.svc.Refresh(context.Background(), "work")
	require.NoError(t, err)

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, model.OAuthTokens{AccessToken: "at-new", RefreshToken: "rt-0"}, stored)
}

type refresherFunc func(ctx context.Context, refreshToken string) (*model.TokenGrant, error)

func (f refresherFunc) Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error) {
	return f(ctx, refreshToken)
}

// --- sync ---

func TestVault_RefreshSyncsOwnedFile(t *testing.T) {
	f := newVaultFixture(t)
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))
	f.file.creds = &model.ExternalCredentials{Tokens: model.OAuthTokens{AccessToken: "at-0", RefreshToken: "rt-0"}}

	_, err := f.svc.Refresh(context.Background(), "work")
	require.NoError(t, err)

	assert.Equal(t, 1, f.file.syncs)
	assert.Equal(t, model.OAuthTokens{AccessToken: "at-1", RefreshToken: "rt-1"}, f.file.lastSync)
}

func TestVault_RefreshLeavesForeignFile(t *testing.T) {
	f := newVaultFixture(t)
	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(time.Hour))
	f.file.creds = &model.ExternalCredentials{Tokens: model.OAuthTokens{AccessToken: "other", RefreshToken: "other-rt"}}

	_, err := f.svc.Refresh(context.Background(), "work")
	require.NoError(t, err)

	assert.Zero(t, f.file.syncs)
	assert.Equal(t, "other", f.file.creds.Tokens.AccessToken)
}

func TestVault_SyncFailureKeepsVaultUpdate(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Second))
	f.file.syncErr = fmt.Errorf("rename: %w", driven.ErrSyncFailed)

	sum, err := f.svc.Refresh(ctx, "work")
	require.Error(t, err)
	assert.True(t, IsSyncError(err))
	assert.ErrorIs(t, err, driven.ErrSyncFailed)
	require.NotNil(t, sum)
	assert.Equal(t, model.StatusValid, sum.Status)

	stored, err := model.DecodeOAuthTokens(f.store.secretOf("work"))
	require.NoError(t, err)
	assert.Equal(t, "rt-1", stored.RefreshToken)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SyncFailuresTotal))
}

func TestVault_LaunchToleratesSyncFailure(t *testing.T) {
	f := newVaultFixture(t)

	f.store.seedOAuth("work", "at-0", "rt-0", f.clock.Now().Add(-time.Second))
	f.file.syncErr = fmt.Errorf("rename: %w", driven.ErrSyncFailed)

	env, err := f.svc.PrepareLaunchEnv(context.Background(), "work")
	require.NoError(t, err)
	assert.Equal(t, "at-1", env[model.EnvOAuthToken])
}

// --- add / capture ---

func TestVault_AddValidation(t *testing.T) {
	tests := []struct {
		name    string
		account string
		kind    model.Kind
		secret  string
		wantErr error
	}{
		{name: "short name", account: "x", kind: model.KindAPIKey, secret: "sk", wantErr: driven.ErrInvalidName},
		{name: "api key without key", account: "perso", kind: model.KindAPIKey, wantErr: driven.ErrInvalidSecret},
		{name: "oauth with secret", account: "perso", kind: model.KindOAuth, secret: "tok", wantErr: driven.ErrInvalidSecret},
		{name: "unknown kind", account: "perso", kind: "password", secret: "x", wantErr: driven.ErrWrongKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVaultFixture(t)
			_, err := f.svc.Add(context.Background(), tt.account, tt.kind, tt.secret)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVault_AddNormalizesAndRejectsDuplicates(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	sum, err := f.svc.Add(ctx, "Client Acme", model.KindOAuth, "")
	require.NoError(t, err)
	assert.Equal(t, "client-acme", sum.Name)

	_, err = f.svc.Add(ctx, "client-acme", model.KindOAuth, "")
	require.ErrorIs(t, err, driven.ErrDuplicateName)
}

func TestVault_CaptureAutoCreates(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	exp := f.clock.Now().Add(8 * time.Hour)
	f.file.creds = &model.ExternalCredentials{
		Tokens:    model.OAuthTokens{AccessToken: "at-x", RefreshToken: "rt-x"},
		ExpiresAt: exp,
	}

	sum, err := f.svc.Capture(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, model.KindOAuth, sum.Kind)
	assert.Equal(t, model.StatusValid, sum.Status)
	assert.Equal(t, exp, sum.ExpiresAt)
	assert.Equal(t, 8*time.Hour, sum.ExpiresIn)
	assert.Zero(t, f.file.syncs, "capture reads the file and never writes it")
}

func TestVault_CaptureErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *vaultFixture)
		wantErr error
	}{
		{name: "missing file", setup: func(*vaultFixture) {}, wantErr: driven.ErrSourceFileMissing},
		{
			name: "malformed file",
			setup: func(f *vaultFixture) {
				f.file.readErr = fmt.Errorf("parse: %w", driven.ErrSourceFileMalformed)
			},
			wantErr: driven.ErrSourceFileMalformed,
		},
		{
			name: "api key account",
			setup: func(f *vaultFixture) {
				f.file.creds = &model.ExternalCredentials{Tokens: model.OAuthTokens{AccessToken: "at"}}
				_, _ = f.store.Put(context.Background(), "work", model.KindAPIKey, "sk-ant-key", false)
			},
			wantErr: driven.ErrWrongKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newVaultFixture(t)
			tt.setup(f)

			_, err := f.svc.Capture(context.Background(), "work")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// --- list / status ---

func TestVault_ListDerivesStatus(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	_, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-xxxxx")
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, "client", model.KindOAuth, "")
	require.NoError(t, err)
	f.store.seedOAuth("soon", "a", "r", now.Add(2*time.Minute))
	f.store.seedOAuth("later", "a", "r", now.Add(time.Hour))
	f.store.seedOAuth("gone", "a", "r", now.Add(-time.Hour))
	f.store.seedOAuth("forever", "a", "r", time.Time{})

	list, err := f.svc.List(ctx)
	require.NoError(t, err)

	got := make(map[string]model.Status, len(list))
	for _, s := range list {
		got[s.Name] = s.Status
		assert.Empty(t, s.CredentialID, "list never reads secrets")
	}
	assert.Equal(t, map[string]model.Status{
		"perso":   model.StatusValid,
		"client":  model.StatusNeedsLogin,
		"soon":    model.StatusExpiringSoon,
		"later":   model.StatusValid,
		"gone":    model.StatusExpired,
		"forever": model.StatusValid,
	}, got)
	assert.Equal(t, "perso", list[0].Name)
}

func TestVault_StatusMasksCredential(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-abcdefghijkl")
	require.NoError(t, err)

	sum, err := f.svc.Status(ctx, "perso")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-...ijkl", sum.CredentialID)
	assert.False(t, sum.HasRefresh)

	f.store.seedOAuth("work", "sk-ant-oat01-zzzzzzzz1234", "rt", f.clock.Now().Add(time.Hour))
	sum, err = f.svc.Status(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-...1234", sum.CredentialID)
	assert.True(t, sum.HasRefresh)
}

func TestVault_StatusDecryptionFailureIsFatal(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-abcdefghijkl")
	require.NoError(t, err)
	f.store.decryptErr = driven.ErrDecryptionFailed

	_, err = f.svc.Status(ctx, "perso")
	require.ErrorIs(t, err, driven.ErrDecryptionFailed)

	_, err = f.svc.PrepareLaunchEnv(ctx, "perso")
	require.ErrorIs(t, err, driven.ErrDecryptionFailed)
}

// --- export / import / delete ---

func TestVault_ExportImportRoundTrip(t *testing.T) {
	src := newVaultFixture(t)
	ctx := context.Background()

	exp := src.clock.Now().Add(time.Hour).Truncate(time.Millisecond)
	_, err := src.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-xxxxx")
	require.NoError(t, err)
	_, err = src.svc.Add(ctx, "client", model.KindOAuth, "")
	require.NoError(t, err)
	src.store.seedOAuth("work", "at-0", "rt-0", exp)

	records, err := src.svc.Export(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, model.ExportRecord{Name: "perso", Kind: model.KindAPIKey, APIKey: "sk-ant-api03-xxxxx"}, records[0])
	assert.Equal(t, model.ExportRecord{Name: "client", Kind: model.KindOAuth}, records[1])
	assert.Equal(t, model.ExportRecord{
		Name: "work", Kind: model.KindOAuth,
		AccessToken: "at-0", RefreshToken: "rt-0", ExpiresAt: exp.UnixMilli(),
	}, records[2])
	assert.Equal(t, float64(1), testutil.ToFloat64(src.metrics.ExportsTotal))

	dst := newVaultFixture(t)
	_, err = dst.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-existing")
	require.NoError(t, err)

	added, err := dst.svc.Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, "sk-ant-existing", dst.store.secretOf("perso"), "existing names are skipped")

	env, err := dst.svc.PrepareLaunchEnv(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "at-0", env[model.EnvOAuthToken])

	acc, err := dst.store.Get(ctx, "work")
	require.NoError(t, err)
	assert.True(t, exp.Equal(acc.ExpiresAt))

	sum, err := dst.svc.Status(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsLogin, sum.Status)
}

func TestVault_ImportValidatesBeforeWriting(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	_, err := f.svc.Import(ctx, []model.ExportRecord{
		{Name: "good", Kind: model.KindAPIKey, APIKey: "sk-ant-1"},
		{Name: "bad", Kind: model.KindAPIKey},
	})
	require.ErrorIs(t, err, driven.ErrInvalidSecret)

	list, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestVault_ExportAbortsOnDecryptionFailure(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-xxxxx")
	require.NoError(t, err)
	f.store.decryptErr = driven.ErrDecryptionFailed

	records, err := f.svc.Export(ctx)
	require.ErrorIs(t, err, driven.ErrDecryptionFailed)
	assert.Nil(t, records)
}

func TestVault_Delete(t *testing.T) {
	f := newVaultFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "perso", model.KindAPIKey, "sk-ant-api03-xxxxx")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "Perso"))

	_, err = f.svc.Status(ctx, "perso")
	require.ErrorIs(t, err, driven.ErrNotFound)

	err = f.svc.Delete(ctx, "perso")
	require.True(t, errors.Is(err, driven.ErrNotFound))
}
