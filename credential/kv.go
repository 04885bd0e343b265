package credential

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
)

// Legacy key names of the two-key layout (one durable entry per token).
const (
	LegacyAccessKey  = "token"
	LegacyRefreshKey = "refresh_token"
)

// DefaultRecordKey is the key [KVStore] writes the combined record under.
const DefaultRecordKey = "session_credentials"

// KeyValue is a durable string key-value backend (browser-style local
// storage, OS keychains, config stores). Get reports ok=false for a missing
// key.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// KVStore stores the record as one base64 value in a [KeyValue] backend.
//
// Backends written by older clients hold the pair as two independent keys
// (LegacyAccessKey, LegacyRefreshKey). Load folds them into the record key and
// removes them, so the torn one-key-without-the-other state cannot come back.
type KVStore struct {
	kv  KeyValue
	key string
	mu  sync.Mutex
}

// NewKVStore creates a [KVStore]. An empty key selects [DefaultRecordKey].
func NewKVStore(kv KeyValue, key string) *KVStore {
	if key == "" {
		key = DefaultRecordKey
	}
	return &KVStore{kv: kv, key: key}
}

// Load reads the record, migrating the legacy two-key layout when the record
// key is absent.
func (s *KVStore) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ok {
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return Decode(data)
	}

	return s.migrateLegacy(ctx)
}

func (s *KVStore) migrateLegacy(ctx context.Context) (Credentials, error) {
	access, hasAccess, err := s.kv.Get(ctx, LegacyAccessKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	refresh, hasRefresh, err := s.kv.Get(ctx, LegacyRefreshKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !hasAccess && !hasRefresh {
		return Credentials{}, nil
	}

	var c Credentials
	// A refresh token without its access token is a torn write; drop it.
	if hasAccess && access != "" {
		c = Credentials{AccessToken: access, RefreshToken: refresh}
		if err := s.write(ctx, c); err != nil {
			return Credentials{}, err
		}
	}

	if err := s.removeLegacy(ctx); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// Save writes the record key.
func (s *KVStore) Save(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, c)
}

// Clear removes the record key and any leftover legacy keys.
func (s *KVStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s.removeLegacy(ctx)
}

func (s *KVStore) write(ctx context.Context, c Credentials) error {
	data, err := Encode(c)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *KVStore) removeLegacy(ctx context.Context) error {
	for _, key := range []string{LegacyAccessKey, LegacyRefreshKey} {
		if err := s.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}
