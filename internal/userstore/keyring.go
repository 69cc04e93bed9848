package userstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"butler/internal/auth"

	"github.com/zalando/go-keyring"
)

// Chave do Keychain onde o registro do usuário é guardado
const keychainUser = "user"

// KeyringStore guarda o usuário como JSON numa entrada do Keychain do sistema
type KeyringStore struct {
	service string
}

// NewKeyringStore cria um store no serviço de Keychain informado
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

func (s *KeyringStore) Load(ctx context.Context) (*auth.User, error) {
	raw, err := keyring.Get(s.service, keychainUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user from keychain: %w", err)
	}

	var user auth.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to parse stored user: %w", err)
	}
	return &user, nil
}

func (s *KeyringStore) Save(ctx context.Context, user *auth.User) error {
	if user == nil {
		return fmt.Errorf("cannot store nil user")
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := keyring.Set(s.service, keychainUser, string(raw)); err != nil {
		return fmt.Errorf("failed to store user in keychain: %w", err)
	}
	return nil
}

// Delete remove o registro; ausência não é erro.
func (s *KeyringStore) Delete(ctx context.Context) error {
	err := keyring.Delete(s.service, keychainUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete user from keychain: %w", err)
	}
	return nil
}

func (s *KeyringStore) Close() error { return nil }
