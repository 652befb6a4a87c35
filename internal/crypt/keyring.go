package crypt

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/runnerr0/tidepool/internal/storage"
)

// KeySettingName is the settings key holding the wrapped data key.
const KeySettingName = "crypt.wrapped_key"

// argon2id parameters for deriving the key-encryption key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

var (
	// ErrNoPassphrase is returned when key wrapping is requested without a
	// passphrase.
	ErrNoPassphrase = errors.New("passphrase is required")
	// ErrWrongPassphrase is returned when a stored key cannot be unwrapped.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key")
)

// SettingsStore is the slice of the durable store the keyring needs.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*storage.Setting, error)
	PutSetting(ctx context.Context, key, value string) error
}

type wrappedKey struct {
	Version int    `json:"v"`
	Salt    string `json:"salt"`
	Key     string `json:"key"`
}

// DeriveKey stretches passphrase into a key-encryption key with argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, KeySize)
}

// WrapKey seals dataKey under a key derived from passphrase and returns the
// encoded result suitable for a settings value.
func WrapKey(dataKey []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	kek, err := NewSealer(DeriveKey(passphrase, salt))
	if err != nil {
		return "", err
	}
	sealed, err := kek.Seal(dataKey)
	if err != nil {
		return "", fmt.Errorf("wrap key: %w", err)
	}

	out, err := json.Marshal(wrappedKey{
		Version: 1,
		Salt:    base64.RawStdEncoding.EncodeToString(salt),
		Key:     base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", fmt.Errorf("encode wrapped key: %w", err)
	}
	return string(out), nil
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(wrapped, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	var w wrappedKey
	if err := json.Unmarshal([]byte(wrapped), &w); err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	if w.Version != 1 {
		return nil, fmt.Errorf("unsupported wrapped key version %d", w.Version)
	}
	salt, err := base64.RawStdEncoding.DecodeString(w.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	sealed, err := base64.RawStdEncoding.DecodeString(w.Key)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}

	kek, err := NewSealer(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	key, err := kek.Open(sealed)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return key, nil
}

// LoadOrCreateKey returns the data key stored in settings, generating and
// persisting a new wrapped key on first use.
func LoadOrCreateKey(ctx context.Context, settings SettingsStore, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	st, err := settings.GetSetting(ctx, KeySettingName)
	switch {
	case err == nil:
		return UnwrapKey(st.Value, passphrase)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load wrapped key: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	wrapped, err := WrapKey(key, passphrase)
	if err != nil {
		return nil, err
	}
	if err := settings.PutSetting(ctx, KeySettingName, wrapped); err != nil {
		return nil, fmt.Errorf("store wrapped key: %w", err)
	}
	return key, nil
}
