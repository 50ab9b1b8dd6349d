package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendDuckDB = "duckdb"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// KV is a namespaced key/value store over a primary tier, with an optional fallback
// tier that takes writes the primary rejects for quota reasons.
type KV struct {
	namespace string
	primary   Tier
	fallback  Tier
	logger    *log.Logger
}

// NewKV creates a KV. fallback may be nil.
func NewKV(namespace string, primary, fallback Tier, logger *log.Logger) *KV {
	if logger == nil {
		logger = log.Default()
	}
	return &KV{namespace: namespace, primary: primary, fallback: fallback, logger: logger}
}

// Namespace returns the instance namespace of the keys.
func (kv *KV) Namespace() string { return kv.namespace }

func (kv *KV) key(k string) string { return kv.namespace + ":" + k }

// Get reads a value from the primary tier, then the fallback tier.
func (kv *KV) Get(k string) ([]byte, bool, error) {
	v, ok, err := kv.primary.Get(kv.key(k))
	if err != nil || ok || kv.fallback == nil {
		return v, ok, err
	}
	return kv.fallback.Get(kv.key(k))
}

// Set writes a value. When the primary tier is over quota the value goes to the
// fallback tier; only when both fail is an error returned.
func (kv *KV) Set(k string, value []byte) error {
	key := kv.key(k)
	err := kv.primary.Set(key, value)
	if err == nil {
		if kv.fallback != nil {
			_ = kv.fallback.Delete(key)
		}
		return nil
	}
	if !errors.Is(err, ErrQuotaExceeded) || kv.fallback == nil {
		return fmt.Errorf("%s tier: %w", kv.primary.Name(), err)
	}

	kv.logger.Warn("primary storage full, using fallback", "key", key, "primary", kv.primary.Name(), "fallback", kv.fallback.Name())
	if ferr := kv.fallback.Set(key, value); ferr != nil {
		return fmt.Errorf("%s and %s tiers: %w", kv.primary.Name(), kv.fallback.Name(), errors.Join(err, ferr))
	}
	// A stale copy in the primary would shadow the fallback on read.
	_ = kv.primary.Delete(key)
	return nil
}

// Delete removes a value from both tiers.
func (kv *KV) Delete(k string) error {
	key := kv.key(k)
	err := kv.primary.Delete(key)
	if kv.fallback != nil {
		err = errors.Join(err, kv.fallback.Delete(key))
	}
	return err
}

// Close closes both tiers.
func (kv *KV) Close() error {
	err := kv.primary.Close()
	if kv.fallback != nil {
		err = errors.Join(err, kv.fallback.Close())
	}
	return err
}

// Options selects and configures the tiers opened by Open.
type Options struct {
	Backend    string
	Fallback   string
	Dir        string
	Namespace  string
	QuotaBytes int64
}

// Open builds a KV from options.
func Open(opts Options, logger *log.Logger) (*KV, error) {
	primary, err := openTier(opts.Backend, opts.Dir, "kv", opts.QuotaBytes)
	if err != nil {
		return nil, err
	}
	var fallback Tier
	if opts.Fallback != "" && opts.Fallback != BackendNone && opts.Fallback != opts.Backend {
		fallback, err = openTier(opts.Fallback, opts.Dir, "fallback", 0)
		if err != nil {
			primary.Close()
			return nil, err
		}
	}
	return NewKV(opts.Namespace, primary, fallback, logger), nil
}

func openTier(backend, dir, name string, quota int64) (Tier, error) {
	switch strings.ToLower(backend) {
	case BackendFile, "":
		return NewFileTier(filepath.Join(dir, name), quota)
	case BackendSQLite:
		return OpenSQLiteTier(filepath.Join(dir, name+".sqlite3"), quota)
	case BackendDuckDB:
		return OpenDuckDBTier(filepath.Join(dir, name+".duckdb"), quota)
	case BackendMemory:
		return NewMemoryTier(quota), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
