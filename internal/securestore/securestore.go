// Package securestore keeps small secrets, such as database encryption
// keys, namespaced by a service name so that several apps can share one
// backend without colliding. When a key file is configured, values are
// sealed with nacl/secretbox before they reach the backend.
package securestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey = errors.New("key must be 32 hex encoded bytes")
	ErrOpen       = errors.New("unable to open sealed value")
)

type Config struct {
	Service string `flag:"service" desc:"namespace for stored secrets" default:"org.opwatch.app" validate:"required"`
	KeyFile string `flag:"key-file" desc:"file containing a hex encoded key used to seal secrets" default:""`
}

type Backend interface {
	ReadItem(ctx context.Context, service string, key string) ([]byte, bool, error)
	WriteItem(ctx context.Context, service string, key string, value []byte) error
	DeleteItem(ctx context.Context, service string, key string) error
}

type SecureStore struct {
	config  *Config
	backend Backend
	key     *[keySize]byte
	rand    io.Reader
}

func New(config *Config, backend Backend) (*SecureStore, error) {
	s := &SecureStore{
		config:  config,
		backend: backend,
		rand:    rand.Reader,
	}

	if config.KeyFile != "" {
		key, err := ReadKey(config.KeyFile)
		if err != nil {
			return nil, err
		}
		s.key = key
	}

	return s, nil
}

func (s *SecureStore) String() string {
	return fmt.Sprintf("securestore:%s", s.config.Service)
}

func (s *SecureStore) Sealed() bool {
	return s.key != nil
}

func (s *SecureStore) SetItem(ctx context.Context, key string, value string) error {
	data, err := s.seal([]byte(value))
	if err != nil {
		return err
	}

	if err := s.backend.WriteItem(ctx, s.config.Service, key, data); err != nil {
		return err
	}

	slog.Debug("securestore:set", "service", s.config.Service, "key", key)
	return nil
}

// GetItem returns the value stored under key and whether it was present.
func (s *SecureStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := s.backend.ReadItem(ctx, s.config.Service, key)
	if err != nil || !ok {
		return "", false, err
	}

	value, err := s.open(data)
	if err != nil {
		return "", false, err
	}

	return string(value), true, nil
}

func (s *SecureStore) DeleteItem(ctx context.Context, key string) error {
	if err := s.backend.DeleteItem(ctx, s.config.Service, key); err != nil {
		return err
	}

	slog.Debug("securestore:delete", "service", s.config.Service, "key", key)
	return nil
}

func (s *SecureStore) seal(value []byte) ([]byte, error) {
	if s.key == nil {
		return value, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], value, &nonce, s.key), nil
}

func (s *SecureStore) open(data []byte) ([]byte, error) {
	if s.key == nil {
		return data, nil
	}

	if len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])

	value, ok := secretbox.Open(nil, data[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, ErrOpen
	}

	return value, nil
}

// GenerateKey returns a new random key, hex encoded as expected by
// ReadKey.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}

	return hex.EncodeToString(key[:]), nil
}

func ParseKey(s string) (*[keySize]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != keySize {
		return nil, ErrInvalidKey
	}

	var key [keySize]byte
	copy(key[:], b)
	return &key, nil
}

func ReadKey(path string) (*[keySize]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	key, err := ParseKey(string(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return key, nil
}
