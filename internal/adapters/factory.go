package adapters

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/retry"
	"github.com/inletworks/inlet/internal/secrets"
	"github.com/inletworks/inlet/pkg/tlsutil"
)

// Per-protocol defaults: operation timeout and retry policy.
var protocolDefaults = map[models.Protocol]struct {
	opTimeout time.Duration
	retry     retry.Spec
}{
	models.ProtocolFTP: {
		opTimeout: 120 * time.Second,
		retry:     retry.Spec{MaxAttempts: 3, Initial: 2 * time.Second, Max: 60 * time.Second, Multiplier: 2},
	},
	models.ProtocolHTTPS: {
		opTimeout: 90 * time.Second,
		retry:     retry.Spec{MaxAttempts: 3, Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
	},
	models.ProtocolAzureBlob: {
		opTimeout: 60 * time.Second,
		retry:     retry.Spec{MaxAttempts: 3, Initial: 500 * time.Millisecond, Max: 20 * time.Second, Multiplier: 2},
	},
}

const defaultConnectTimeout = 30 * time.Second

// Factory builds a fresh adapter per execution, resolving secrets and
// injecting the shared HTTP client pool.
type Factory struct {
	secrets secrets.Resolver
	pool    *tlsutil.ClientPool
	jitter  float64
}

// NewFactory constructs a factory. jitter is the retry jitter fraction
// applied to every built retry spec (0 disables it).
func NewFactory(resolver secrets.Resolver, pool *tlsutil.ClientPool, jitter float64) *Factory {
	return &Factory{secrets: resolver, pool: pool, jitter: jitter}
}

// Build constructs the adapter and retry spec for a configuration.
func (f *Factory) Build(ctx context.Context, cfg *models.RetrievalConfiguration) (Adapter, retry.Spec, error) {
	defaults, ok := protocolDefaults[cfg.Protocol]
	if !ok {
		return nil, retry.Spec{}, inleterrors.New(inleterrors.CategoryConfigurationError, "build_adapter",
			fmt.Errorf("unknown protocol %q", cfg.Protocol)).WithTenant(cfg.TenantID, cfg.ConfigID)
	}
	spec := defaults.retry
	spec.Jitter = f.jitter

	switch cfg.Protocol {
	case models.ProtocolFTP:
		settings := *cfg.Settings.FTP
		if settings.ConnectionTimeout <= 0 {
			settings.ConnectionTimeout = defaultConnectTimeout
		}
		password, err := f.secrets.Resolve(ctx, settings.PasswordSecretRef)
		if err != nil {
			return nil, spec, wrapSecretError(err, cfg)
		}
		return NewFTPAdapter(settings, password, defaults.opTimeout), spec, nil

	case models.ProtocolHTTPS:
		settings := *cfg.Settings.HTTPS
		if settings.ConnectionTimeout <= 0 {
			settings.ConnectionTimeout = defaults.opTimeout
		}
		var secret string
		if settings.AuthType != models.HTTPSAuthNone && settings.AuthType != "" {
			var err error
			secret, err = f.secrets.Resolve(ctx, settings.PasswordOrTokenSecretRef)
			if err != nil {
				return nil, spec, wrapSecretError(err, cfg)
			}
		}
		client := f.pool.Client(settings.ConnectionTimeout)
		return NewHTTPSAdapter(settings, secret, client), spec, nil

	case models.ProtocolAzureBlob:
		settings := *cfg.Settings.AzureBlob
		var secret string
		var ref string
		switch settings.AuthType {
		case models.AzureBlobAuthConnectionString:
			ref = settings.ConnectionStringSecretRef
		case models.AzureBlobAuthSasToken:
			ref = settings.SasTokenSecretRef
		}
		if ref != "" {
			var err error
			secret, err = f.secrets.Resolve(ctx, ref)
			if err != nil {
				return nil, spec, wrapSecretError(err, cfg)
			}
		}
		adapter, err := NewAzureBlobAdapter(settings, secret)
		if err != nil {
			return nil, spec, err
		}
		return adapter, spec, nil
	}

	return nil, spec, inleterrors.New(inleterrors.CategoryConfigurationError, "build_adapter",
		fmt.Errorf("unknown protocol %q", cfg.Protocol)).WithTenant(cfg.TenantID, cfg.ConfigID)
}

func wrapSecretError(err error, cfg *models.RetrievalConfiguration) error {
	var discErr *inleterrors.DiscoveryError
	if goerrors.As(err, &discErr) {
		return discErr.WithTenant(cfg.TenantID, cfg.ConfigID)
	}
	return inleterrors.New(inleterrors.CategoryAuthenticationFailure, "resolve_secret", err).
		WithTenant(cfg.TenantID, cfg.ConfigID)
}
