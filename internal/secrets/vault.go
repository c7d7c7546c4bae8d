// Package secrets swaps vault references in a settings snapshot for the
// values stored in HashiCorp Vault.
//
// A reference has the form
//
//	vault:<mount>/<path>#<key>
//
// e.g. POSTGRES_PASSWORD=vault:secret/questforge#db_password reads key
// "db_password" from the KV v2 secret "questforge" under mount "secret".
// VAULT_ADDR and VAULT_TOKEN are honoured unless VaultConfig overrides them.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/KerubinDev/Quest-Forge/internal/config"
)

// Prefix marks a settings value as a vault reference.
const Prefix = "vault:"

// ErrInvalidReference is returned for a value with Prefix that cannot be parsed.
var ErrInvalidReference = errors.New("invalid vault reference")

// VaultConfig overrides the client settings read from the environment.
type VaultConfig struct {
	Address string
	Token   string
	// CacheTTL keeps fetched values for repeated Resolve calls; zero disables caching.
	CacheTTL time.Duration
}

// VaultResolver is safe for concurrent use.
type VaultResolver struct {
	api *vault.Client
	ttl time.Duration

	cacheMu sync.RWMutex
	cache   map[string]cached // path#key → value + expiry
}

type cached struct {
	val string
	exp time.Time
}

// NewVaultResolver builds a Vault API client from the environment and cfg.
func NewVaultResolver(cfg VaultConfig) (*VaultResolver, error) {
	apiCfg := vault.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("vault env cfg: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}

	apiCli, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if cfg.Token != "" {
		apiCli.SetToken(cfg.Token)
	}

	return &VaultResolver{
		api:   apiCli,
		ttl:   cfg.CacheTTL,
		cache: make(map[string]cached),
	}, nil
}

// Resolve returns a copy of s with every vault reference in a secret field
// replaced by its stored value. s itself is not modified.
func (r *VaultResolver) Resolve(ctx context.Context, s config.Settings) (config.Settings, error) {
	out := s
	for name, field := range secretFields(&out) {
		if !strings.HasPrefix(*field, Prefix) {
			continue
		}
		secretPath, key, err := parseReference(*field)
		if err != nil {
			return config.Settings{}, fmt.Errorf("%s: %w", name, err)
		}
		val, err := r.lookup(ctx, secretPath, key)
		if err != nil {
			return config.Settings{}, fmt.Errorf("%s: %w", name, err)
		}
		*field = val
	}
	return out, nil
}

func secretFields(s *config.Settings) map[string]*string {
	return map[string]*string{
		"POSTGRES_PASSWORD": &s.DBPassword,
	}
}

func (r *VaultResolver) lookup(ctx context.Context, secretPath, key string) (string, error) {
	canonical := secretPath + "#" + key

	if r.ttl > 0 {
		r.cacheMu.RLock()
		cv, ok := r.cache[canonical]
		r.cacheMu.RUnlock()
		if ok && time.Now().Before(cv.exp) {
			return cv.val, nil
		}
	}

	mount, rel := splitMount(secretPath)
	sec, err := r.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}

	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	sval, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", canonical)
	}

	if r.ttl > 0 {
		r.cacheMu.Lock()
		r.cache[canonical] = cached{val: sval, exp: time.Now().Add(r.ttl)}
		r.cacheMu.Unlock()
	}
	return sval, nil
}

func parseReference(ref string) (secretPath, key string, err error) {
	body := strings.TrimPrefix(ref, Prefix)
	secretPath, key, ok := strings.Cut(body, "#")
	if !ok || key == "" {
		return "", "", fmt.Errorf("%w: missing #key in %q", ErrInvalidReference, ref)
	}
	if mount, rel := splitMount(secretPath); mount == "" || rel == "" {
		return "", "", fmt.Errorf("%w: expected <mount>/<path> in %q", ErrInvalidReference, ref)
	}
	return secretPath, key, nil
}

func splitMount(p string) (mount, rel string) {
	mount, rel, _ = strings.Cut(p, "/")
	return mount, rel
}
