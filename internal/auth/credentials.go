package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInactiveAccount = errors.New("inactive account")
	ErrInvalidPassword = errors.New("invalid password")
)

// CredentialStore verifies email/password pairs against stored hashes.
type CredentialStore struct {
	identities IdentityStore
	hasher     *PasswordHasher
}

func NewCredentialStore(identities IdentityStore, hasher *PasswordHasher) (*CredentialStore, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	return &CredentialStore{identities: identities, hasher: hasher}, nil
}

// Authenticate returns the identity owning email when password matches.
// It fails with ErrUserNotFound, ErrInactiveAccount or ErrInvalidPassword;
// any other error comes from the store.
func (c *CredentialStore) Authenticate(ctx context.Context, email, password string) (Identity, error) {
	u, err := c.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.hasher.burn(password)
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}
	if !u.Active {
		return Identity{}, ErrInactiveAccount
	}
	if !c.hasher.Verify(password, u.PasswordHash) {
		return Identity{}, ErrInvalidPassword
	}
	return u, nil
}

// Register hashes password and stores identity with it.
func (c *CredentialStore) Register(ctx context.Context, identity Identity, password string) (Identity, error) {
	if password == "" {
		return Identity{}, fmt.Errorf("password is required")
	}
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return Identity{}, err
	}
	identity.PasswordHash = hash
	if err := c.identities.Put(ctx, identity); err != nil {
		return Identity{}, fmt.Errorf("store identity: %w", err)
	}
	return identity, nil
}

func (c *CredentialStore) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if err := validatePasswordPolicy(newPassword); err != nil {
		return err
	}
	u, err := c.identities.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup identity: %w", err)
	}
	if !c.hasher.Verify(currentPassword, u.PasswordHash) {
		return ErrInvalidPassword
	}
	hash, err := c.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := c.identities.SetPasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("store updated password: %w", err)
	}
	return nil
}
