package credential

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/wire"
	"github.com/jobs/integration-engine/internal/biz/secret"
	"github.com/jobs/integration-engine/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var Provider = wire.NewSet(NewStore)

const (
	DefaultRefreshMargin  = 5 * time.Minute
	DefaultRefreshTimeout = 30 * time.Second
)

type StoreConfig struct {
	RefreshMargin  time.Duration
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// Store 负责凭证的查找、刷新和持久化.
// 同一 (tenant, provider, scope) 的并发刷新合并为一次.
type Store struct {
	secrets   secret.Repo
	sealer    *Sealer
	refresher Refresher
	margin    time.Duration
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger

	group singleflight.Group
}

func NewStore(secrets secret.Repo, sealer *Sealer, refresher Refresher, cfg StoreConfig, logger *zap.Logger) *Store {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		secrets:   secrets,
		sealer:    sealer,
		refresher: refresher,
		margin:    cfg.RefreshMargin,
		timeout:   cfg.RefreshTimeout,
		now:       cfg.Now,
		logger:    logger.Named("credential"),
	}
}

// GetCredential returns a usable credential for the provider, refreshing it
// first when it expires within the refresh margin. The installation scoped
// secret wins over the tenant scoped one.
func (s *Store) GetCredential(ctx context.Context, tenantID, providerKey string, installationID *uint64) (Credential, error) {
	key := secret.CredentialKey(providerKey)
	sec, err := s.lookup(ctx, tenantID, installationID, key)
	if err != nil {
		return Credential{}, err
	} else if sec == nil {
		return Credential{}, errors.Mark(errors.Newf("tenant %s has not connected %s", tenantID, providerKey), errors.ErrNotConnected)
	}

	cred, err := s.open(sec)
	if err != nil {
		return Credential{}, err
	}
	now := s.now()
	if err := s.secrets.Touch(ctx, sec.ID, now); err != nil {
		s.logger.Warn("failed to touch secret", zap.Uint64("secret_id", sec.ID), zap.Error(err))
	}
	if !cred.NeedsRefresh(now, s.margin) {
		return cred, nil
	}

	flightKey := tenantID + ":" + providerKey + ":" + scopeKey(sec.InstallationID)
	flight := s.group.DoChan(flightKey, func() (any, error) {
		// 提供方可能已轮换 refresh token, 刷新结果必须落库, 不随发起者的 ctx 取消
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.refresh(fctx, tenantID, providerKey, sec.InstallationID)
	})
	select {
	case <-ctx.Done():
		return Credential{}, errors.Wrap(ctx.Err(), "wait for credential refresh")
	case res := <-flight:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		if res.Shared {
			s.logger.Debug("credential refresh shared",
				zap.String("tenant_id", tenantID),
				zap.String("provider", providerKey))
		}
		return res.Val.(Credential), nil
	}
}

func (s *Store) refresh(ctx context.Context, tenantID, providerKey string, installationID *uint64) (Credential, error) {
	key := secret.CredentialKey(providerKey)

	// 重新读取, 其他进程可能已经完成刷新
	sec, err := s.secrets.Find(ctx, tenantID, installationID, key)
	if err != nil {
		return Credential{}, err
	} else if sec == nil {
		return Credential{}, errors.Mark(errors.Newf("tenant %s has not connected %s", tenantID, providerKey), errors.ErrNotConnected)
	}
	cred, err := s.open(sec)
	if err != nil {
		return Credential{}, err
	}
	now := s.now()
	if !cred.NeedsRefresh(now, s.margin) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		return Credential{}, errors.Mark(errors.Newf("%s token expired and no refresh token is stored", providerKey), errors.ErrCredentialsExpired)
	}

	refreshed, err := s.refresher.Refresh(ctx, providerKey, cred)
	if err != nil {
		if errors.Is(err, errors.ErrTransient) {
			if cred.ValidAt(now) {
				s.logger.Warn("token endpoint unavailable, using current token",
					zap.String("tenant_id", tenantID),
					zap.String("provider", providerKey),
					zap.Time("expiry", cred.Expiry),
					zap.Error(err))
				return cred, nil
			}
			return Credential{}, err
		}
		if !errors.Is(err, errors.ErrCredentialsExpired) {
			err = errors.Mark(err, errors.ErrCredentialsExpired)
		}
		s.logger.Warn("credential refresh rejected",
			zap.String("tenant_id", tenantID),
			zap.String("provider", providerKey),
			zap.Error(err))
		return Credential{}, err
	}

	sealed, err := s.seal(refreshed)
	if err != nil {
		return Credential{}, err
	}
	swapped, err := s.secrets.CompareAndSwap(ctx, sec.ID, sec.Version, sealed)
	if err != nil {
		return Credential{}, errors.Wrap(err, "persist refreshed credential")
	}
	if !swapped {
		// 另一个进程先写入, 使用其结果
		latest, err := s.secrets.Find(ctx, tenantID, installationID, key)
		if err != nil {
			return Credential{}, err
		}
		if latest != nil {
			if stored, err := s.open(latest); err == nil && stored.ValidAt(now) {
				return stored, nil
			}
		}
		return Credential{}, errors.Mark(errors.New("credential changed during refresh"), errors.ErrTransient)
	}

	s.logger.Info("credential refreshed",
		zap.String("tenant_id", tenantID),
		zap.String("provider", providerKey),
		zap.Time("expiry", refreshed.Expiry))
	return refreshed, nil
}

// Connect stores or replaces the provider credential, e.g. after the tenant
// went through the provider's consent screen again.
func (s *Store) Connect(ctx context.Context, tenantID, providerKey string, installationID *uint64, cred Credential) error {
	sealed, err := s.seal(cred)
	if err != nil {
		return err
	}
	return s.secrets.Upsert(ctx, &secret.Secret{
		TenantID:       tenantID,
		InstallationID: installationID,
		Key:            secret.CredentialKey(providerKey),
		Value:          sealed,
	})
}

func (s *Store) Disconnect(ctx context.Context, tenantID, providerKey string, installationID *uint64) error {
	sec, err := s.secrets.Find(ctx, tenantID, installationID, secret.CredentialKey(providerKey))
	if err != nil {
		return err
	} else if sec == nil {
		return errors.Mark(errors.Newf("tenant %s has not connected %s", tenantID, providerKey), errors.ErrNotFound)
	}
	return s.secrets.Delete(ctx, sec.ID)
}

// Invalidate expires the stored access token so the next lookup refreshes it.
func (s *Store) Invalidate(ctx context.Context, tenantID, providerKey string, installationID *uint64) error {
	sec, err := s.lookup(ctx, tenantID, installationID, secret.CredentialKey(providerKey))
	if err != nil || sec == nil {
		return err
	}
	cred, err := s.open(sec)
	if err != nil {
		return err
	}
	cred.Expiry = s.now().Add(-time.Second)
	sealed, err := s.seal(cred)
	if err != nil {
		return err
	}
	_, err = s.secrets.CompareAndSwap(ctx, sec.ID, sec.Version, sealed)
	return err
}

// PutSecret stores a plain secret value such as an API key.
func (s *Store) PutSecret(ctx context.Context, tenantID string, installationID *uint64, key, value string) error {
	sealed, err := s.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return s.secrets.Upsert(ctx, &secret.Secret{
		TenantID:       tenantID,
		InstallationID: installationID,
		Key:            key,
		Value:          sealed,
	})
}

func (s *Store) HasSecret(ctx context.Context, tenantID string, installationID *uint64, key string) (bool, error) {
	sec, err := s.lookup(ctx, tenantID, installationID, key)
	return sec != nil, err
}

func (s *Store) DeleteInstallationSecrets(ctx context.Context, installationID uint64) error {
	return s.secrets.DeleteByInstallationID(ctx, installationID)
}

func (s *Store) lookup(ctx context.Context, tenantID string, installationID *uint64, key string) (*secret.Secret, error) {
	if installationID != nil {
		sec, err := s.secrets.Find(ctx, tenantID, installationID, key)
		if err != nil || sec != nil {
			return sec, err
		}
	}
	return s.secrets.Find(ctx, tenantID, nil, key)
}

func (s *Store) open(sec *secret.Secret) (Credential, error) {
	plain, err := s.sealer.Open(sec.Value)
	if err != nil {
		return Credential{}, errors.Wrapf(err, "open secret %d", sec.ID)
	}
	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return Credential{}, errors.Wrapf(err, "decode credential %d", sec.ID)
	}
	return cred, nil
}

func (s *Store) seal(cred Credential) ([]byte, error) {
	plain, err := json.Marshal(cred)
	if err != nil {
		return nil, errors.Wrap(err, "encode credential")
	}
	return s.sealer.Seal(plain)
}

func scopeKey(installationID *uint64) string {
	if installationID == nil {
		return "tenant"
	}
	return strconv.FormatUint(*installationID, 10)
}
