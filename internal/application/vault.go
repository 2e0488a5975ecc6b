// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driving"
	"github.com/ericfisherdev/claude-accounts/internal/observability"
)

// DefaultExpiryLead is the window before expiry reported as expiring soon.
const DefaultExpiryLead = 5 * time.Minute

// Compile-time interface satisfaction check.
var _ driving.AccountVault = (*VaultService)(nil)

// SyncError reports that the vault was updated but the external credential
// file could not be rewritten. Operations returning it also return their
// successful result.
type SyncError struct {
	Name string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("account %q updated but credentials file not synced: %v", e.Name, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsSyncError reports whether err only signals a failed external file sync.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// VaultService implements the account vault: it owns the oauth lifecycle and
// keeps the external credential file in step with the store. It depends only
// on port interfaces.
type VaultService struct {
	store     driven.AccountStore
	file      driven.CredentialFile
	refresher driven.TokenRefresher
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	lead      time.Duration

	flights singleflight.Group
	locks   *keyedMutex
}

// VaultOption configures a VaultService.
type VaultOption func(*VaultService)

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) VaultOption {
	return func(s *VaultService) { s.now = now }
}

// WithExpiryLead sets the expiring-soon window.
func WithExpiryLead(lead time.Duration) VaultOption {
	return func(s *VaultService) { s.lead = lead }
}

// WithMetrics records refresh, launch, sync and export metrics.
func WithMetrics(m *observability.Metrics) VaultOption {
	return func(s *VaultService) { s.metrics = m }
}

// NewVaultService creates a new VaultService with the required dependencies.
func NewVaultService(
	store driven.AccountStore,
	file driven.CredentialFile,
	refresher driven.TokenRefresher,
	logger *slog.Logger,
	opts ...VaultOption,
) *VaultService {
	s := &VaultService{
		store:     store,
		file:      file,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
		lead:      DefaultExpiryLead,
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates an account. An api_key account needs its key; an oauth account
// starts uncaptured and takes no secret.
func (s *VaultService) Add(ctx context.Context, name string, kind model.Kind, secret string) (*model.AccountSummary, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.KindAPIKey:
		if secret == "" {
			return nil, fmt.Errorf("add %q: api key required: %w", name, driven.ErrInvalidSecret)
		}
	case model.KindOAuth:
		if secret != "" {
			return nil, fmt.Errorf("add %q: oauth accounts are populated by capture: %w", name, driven.ErrInvalidSecret)
		}
	default:
		return nil, fmt.Errorf("add %q: unknown kind %q: %w", name, kind, driven.ErrWrongKind)
	}

	acc, err := s.store.Put(ctx, name, kind, secret, false)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account added", "account", name, "kind", kind)
	return s.summarize(acc), nil
}

// Capture reads the session from the external credential file and stores it
// in the named oauth account, creating the account when it does not exist.
func (s *VaultService) Capture(ctx context.Context, name string) (*model.AccountSummary, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	ext, err := s.file.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture %q: %w", name, err)
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	acc, err := s.store.Get(ctx, name)
	switch {
	case errors.Is(err, driven.ErrNotFound):
		if _, err := s.store.Put(ctx, name, model.KindOAuth, "", false); err != nil {
			return nil, fmt.Errorf("capture %q: %w", name, err)
		}
		s.logger.Info("account created by capture", "account", name)
	case err != nil:
		return nil, fmt.Errorf("capture %q: %w", name, err)
	case acc.Kind != model.KindOAuth:
		return nil, fmt.Errorf("capture %q: account holds an api key: %w", name, driven.ErrWrongKind)
	}

	secret, err := ext.Tokens.Encode()
	if err != nil {
		return nil, fmt.Errorf("capture %q: %w", name, err)
	}

	acc, err = s.store.UpdateSecret(ctx, name, secret, ext.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("capture %q: %w", name, err)
	}

	s.logger.Info("account captured",
		"account", name,
		"source", s.file.Path(),
		"expires_at", acc.ExpiresAt,
	)
	return s.summarize(acc), nil
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent calls
// for the same account share one exchange. When the vault is updated but the
// external file is not, the summary is returned together with a *SyncError.
func (s *VaultService) Refresh(ctx context.Context, name string) (*model.AccountSummary, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	acc, err := s.refresh(ctx, name, false)
	if acc == nil {
		return nil, err
	}
	return s.summarize(acc), err
}

// refresh coalesces refreshes per account. Forced and expiry-driven refreshes
// use separate flights so a forced caller never inherits a skipped exchange;
// the per-account lock serializes the two. The shared flight ignores the
// cancellation of whichever caller started it, so waiting callers still get
// its result; the exchange stays bounded by the refresher's own timeout.
func (s *VaultService) refresh(ctx context.Context, name string, onlyIfExpired bool) (*model.Account, error) {
	key := "refresh/" + name
	if onlyIfExpired {
		key = "expired/" + name
	}

	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.refreshLocked(flightCtx, name, onlyIfExpired)
	})
	acc, _ := v.(*model.Account)
	return acc, err
}

func (s *VaultService) refreshLocked(ctx context.Context, name string, onlyIfExpired bool) (*model.Account, error) {
	unlock := s.locks.Lock(name)
	defer unlock()

	// Re-read under the lock: a previous holder may have rotated the tokens.
	acc, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("refresh %q: %w", name, err)
	}
	if acc.Kind != model.KindOAuth {
		return nil, fmt.Errorf("refresh %q: api key accounts do not expire: %w", name, driven.ErrWrongKind)
	}
	if !acc.Captured || acc.NeedsLogin {
		return nil, fmt.Errorf("refresh %q: %w", name, driven.ErrNeedsLogin)
	}
	if onlyIfExpired && acc.StatusAt(s.now(), 0) != model.StatusExpired {
		return acc, nil
	}

	tokens, err := s.tokens(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("refresh %q: %w", name, err)
	}
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("refresh %q: no refresh token stored: %w", name, driven.ErrNeedsLogin)
	}

	start := time.Now()
	grant, err := s.refresher.Refresh(ctx, tokens.RefreshToken)
	elapsed := time.Since(start)
	if err != nil {
		return nil, s.refreshFailed(ctx, name, err, elapsed)
	}

	// The endpoint has consumed the old refresh token: the new pair must be
	// stored even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)

	next := grant.Tokens
	if next.RefreshToken == "" {
		next.RefreshToken = tokens.RefreshToken
	}
	secret, err := next.Encode()
	if err != nil {
		return nil, fmt.Errorf("refresh %q: %w", name, err)
	}

	updated, err := s.store.UpdateSecret(ctx, name, secret, grant.ExpiresAt)
	if err != nil {
		s.logger.Error("refreshed tokens could not be stored", "account", name, "error", err)
		s.metrics.ObserveRefresh(observability.OutcomeError, elapsed)
		return nil, fmt.Errorf("refresh %q: %w", name, err)
	}

	s.metrics.ObserveRefresh(observability.OutcomeSuccess, elapsed)
	s.logger.Info("account refreshed",
		"account", name,
		"expires_at", updated.ExpiresAt,
		"duration", elapsed,
	)

	if err := s.syncFile(ctx, name, tokens, next, grant.ExpiresAt); err != nil {
		return updated, err
	}
	return updated, nil
}

func (s *VaultService) refreshFailed(ctx context.Context, name string, err error, elapsed time.Duration) error {
	switch {
	case errors.Is(err, driven.ErrRefreshRejected):
		s.metrics.ObserveRefresh(observability.OutcomeRejected, elapsed)
		s.logger.Warn("refresh token rejected, account needs login", "account", name, "error", err)
		if markErr := s.store.MarkNeedsLogin(ctx, name); markErr != nil {
			return errors.Join(fmt.Errorf("refresh %q: %w", name, err), markErr)
		}
	case errors.Is(err, driven.ErrNetwork):
		s.metrics.ObserveRefresh(observability.OutcomeNetwork, elapsed)
		s.logger.Warn("token endpoint unreachable", "account", name, "error", err)
	default:
		s.metrics.ObserveRefresh(observability.OutcomeError, elapsed)
		s.logger.Error("refresh failed", "account", name, "error", err)
	}
	return fmt.Errorf("refresh %q: %w", name, err)
}

// syncFile mirrors the new tokens into the external credential file. A failure
// never rolls back the vault.
func (s *VaultService) syncFile(ctx context.Context, name string, previous, next model.OAuthTokens, expiresAt time.Time) error {
	written, err := s.file.Sync(ctx, previous, next, expiresAt)
	if err != nil {
		s.metrics.IncSyncFailure()
		s.logger.Warn("credentials file sync failed",
			"account", name,
			"path", s.file.Path(),
			"error", err,
		)
		return &SyncError{Name: name, Err: err}
	}
	if !written {
		s.logger.Debug("credentials file holds another session, left unchanged",
			"account", name,
			"path", s.file.Path(),
		)
	}
	return nil
}

// PrepareLaunchEnv returns the environment for launching the external tool
// under the named account. It is not a pure read: an expired oauth account is
// refreshed first and the last-used time is recorded. The result holds
// plaintext secrets and must never be logged or persisted.
func (s *VaultService) PrepareLaunchEnv(ctx context.Context, name string) (model.LaunchEnv, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	acc, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("launch %q: %w", name, err)
	}

	var env model.LaunchEnv
	switch acc.Kind {
	case model.KindAPIKey:
		key, err := s.store.Decrypt(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("launch %q: %w", name, err)
		}
		env = model.LaunchEnv{model.EnvAPIKey: key}

	case model.KindOAuth:
		if !acc.Captured || acc.NeedsLogin {
			return nil, fmt.Errorf("launch %q: %w", name, driven.ErrNeedsLogin)
		}
		if acc.StatusAt(s.now(), 0) == model.StatusExpired {
			if _, err := s.refresh(ctx, name, true); err != nil && !IsSyncError(err) {
				return nil, fmt.Errorf("launch %q: %w", name, err)
			}
		}
		tokens, err := s.tokens(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("launch %q: %w", name, err)
		}
		if tokens.AccessToken == "" {
			return nil, fmt.Errorf("launch %q: %w", name, driven.ErrNeedsLogin)
		}
		env = model.LaunchEnv{model.EnvOAuthToken: tokens.AccessToken}

	default:
		return nil, fmt.Errorf("launch %q: unknown kind %q: %w", name, acc.Kind, driven.ErrWrongKind)
	}

	if err := s.store.TouchLastUsed(ctx, name); err != nil {
		s.logger.Warn("failed to record last use", "account", name, "error", err)
	}
	s.metrics.IncLaunch(string(acc.Kind))
	s.logger.Info("launch environment prepared", "account", name, "vars", env.Keys())

	return env, nil
}

// List returns every account with its derived status. Secrets are not read.
func (s *VaultService) List(ctx context.Context) ([]model.AccountSummary, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.AccountSummary, 0, len(accounts))
	for i := range accounts {
		summaries = append(summaries, *s.summarize(&accounts[i]))
	}
	return summaries, nil
}

// Status returns the account summary including a masked credential preview.
// A ciphertext that fails authentication fails the call.
func (s *VaultService) Status(ctx context.Context, name string) (*model.AccountSummary, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	acc, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	summary := s.summarize(acc)
	if !acc.Captured {
		return summary, nil
	}

	switch acc.Kind {
	case model.KindAPIKey:
		key, err := s.store.Decrypt(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", name, err)
		}
		summary.CredentialID = MaskSecret(key)
	case model.KindOAuth:
		tokens, err := s.tokens(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("status %q: %w", name, err)
		}
		summary.CredentialID = MaskSecret(tokens.AccessToken)
		summary.HasRefresh = tokens.RefreshToken != ""
	}
	return summary, nil
}

// Export returns every account with its secrets in clear. Any decryption
// failure aborts the whole export.
func (s *VaultService) Export(ctx context.Context) ([]model.ExportRecord, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]model.ExportRecord, 0, len(accounts))
	names := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		rec := model.ExportRecord{Name: acc.Name, Kind: acc.Kind}
		if acc.Captured {
			secret, err := s.store.Decrypt(ctx, acc.Name)
			if err != nil {
				return nil, fmt.Errorf("export: %w", err)
			}
			switch acc.Kind {
			case model.KindAPIKey:
				rec.APIKey = secret
			case model.KindOAuth:
				tokens, err := model.DecodeOAuthTokens(secret)
				if err != nil {
					return nil, fmt.Errorf("export %q: %w", acc.Name, err)
				}
				rec.AccessToken = tokens.AccessToken
				rec.RefreshToken = tokens.RefreshToken
				if acc.HasExpiry() {
					rec.ExpiresAt = acc.ExpiresAt.UnixMilli()
				}
			}
		}
		records = append(records, rec)
		names = append(names, acc.Name)
	}

	s.metrics.IncExport()
	s.logger.Warn("vault exported with secrets in clear", "accounts", names)
	return records, nil
}

// Import adds every record whose name is not yet taken and returns how many
// were added. All records are validated before anything is written.
func (s *VaultService) Import(ctx context.Context, records []model.ExportRecord) (int, error) {
	type pending struct {
		name      string
		kind      model.Kind
		secret    string
		expiresAt time.Time
	}

	batch := make([]pending, 0, len(records))
	for i, rec := range records {
		name, err := NormalizeName(rec.Name)
		if err != nil {
			return 0, fmt.Errorf("import record %d: %w", i, err)
		}

		p := pending{name: name, kind: rec.Kind}
		switch rec.Kind {
		case model.KindAPIKey:
			if rec.APIKey == "" {
				return 0, fmt.Errorf("import %q: api key required: %w", name, driven.ErrInvalidSecret)
			}
			p.secret = rec.APIKey
		case model.KindOAuth:
			if rec.AccessToken != "" {
				tokens := model.OAuthTokens{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken}
				if p.secret, err = tokens.Encode(); err != nil {
					return 0, fmt.Errorf("import %q: %w", name, err)
				}
				if rec.ExpiresAt > 0 {
					p.expiresAt = time.UnixMilli(rec.ExpiresAt).UTC()
				}
			}
		default:
			return 0, fmt.Errorf("import %q: unknown kind %q: %w", name, rec.Kind, driven.ErrWrongKind)
		}
		batch = append(batch, p)
	}

	added := 0
	for _, p := range batch {
		_, err := s.store.Get(ctx, p.name)
		if err == nil {
			s.logger.Debug("import skipped existing account", "account", p.name)
			continue
		}
		if !errors.Is(err, driven.ErrNotFound) {
			return added, fmt.Errorf("import %q: %w", p.name, err)
		}

		if err := s.importOne(ctx, p.name, p.kind, p.secret, p.expiresAt); err != nil {
			if errors.Is(err, driven.ErrDuplicateName) {
				continue
			}
			return added, err
		}
		added++
	}

	s.logger.Info("accounts imported", "added", added, "total", len(records))
	return added, nil
}

// importOne stores an api key in a single insert. An oauth record is inserted
// uncaptured first so its tokens and expiry land together in one update.
func (s *VaultService) importOne(ctx context.Context, name string, kind model.Kind, secret string, expiresAt time.Time) error {
	if kind == model.KindAPIKey {
		_, err := s.store.Put(ctx, name, kind, secret, false)
		return err
	}

	if _, err := s.store.Put(ctx, name, kind, "", false); err != nil {
		return err
	}
	if secret == "" {
		return nil
	}
	if _, err := s.store.UpdateSecret(ctx, name, secret, expiresAt); err != nil {
		return fmt.Errorf("import %q: %w", name, err)
	}
	return nil
}

// Delete permanently removes the account. It waits for any refresh of the
// same account to finish.
func (s *VaultService) Delete(ctx context.Context, name string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(name)
	defer unlock()

	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}

	s.logger.Info("account deleted", "account", name)
	return nil
}

func (s *VaultService) tokens(ctx context.Context, name string) (model.OAuthTokens, error) {
	secret, err := s.store.Decrypt(ctx, name)
	if err != nil {
		return model.OAuthTokens{}, err
	}
	return model.DecodeOAuthTokens(secret)
}

func (s *VaultService) summarize(acc *model.Account) *model.AccountSummary {
	now := s.now()
	summary := &model.AccountSummary{
		Name:       acc.Name,
		Kind:       acc.Kind,
		Status:     acc.StatusAt(now, s.lead),
		ExpiresAt:  acc.ExpiresAt,
		CreatedAt:  acc.CreatedAt,
		LastUsedAt: acc.LastUsedAt,
	}
	if acc.HasExpiry() && now.Before(acc.ExpiresAt) {
		summary.ExpiresIn = acc.ExpiresAt.Sub(now)
	}
	return summary
}
