// Package secrets looks up and stores the bot's credentials in the platform
// secret store. On macOS this is the system Keychain; elsewhere every
// operation reports ErrNotSupported and credentials come from config or env.
package secrets

import (
	"errors"
	"fmt"
)

// ServiceName is the keychain service under which credentials are stored.
const ServiceName = "opencode-telegram"

// Account names for the stored credentials.
const (
	AccountTelegramToken    = "telegram-token"
	AccountOpenCodePassword = "opencode-password"
)

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// Store provides secure credential storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a password for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a password, replacing any existing one.
	Set(service, account, password string) error

	// Delete removes a credential.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported reports whether this store works on the current platform.
	IsSupported() bool
}

// store is set by the platform-specific init().
var store Store

// Default returns the Store for the current platform.
func Default() Store {
	if store == nil {
		store = unsupportedStore{}
	}
	return store
}

// Accounts lists every account name the CLI accepts.
func Accounts() []string {
	return []string{AccountTelegramToken, AccountOpenCodePassword}
}

// ValidateAccount returns an error for account names the bot does not use.
func ValidateAccount(account string) error {
	for _, a := range Accounts() {
		if a == account {
			return nil
		}
	}
	return fmt.Errorf("unknown credential %q (expected one of %v)", account, Accounts())
}

// Lookup returns the credential for account from the default store.
// It returns an empty string without error when the platform has no store
// or nothing is stored, so callers can fall through to other sources.
func Lookup(account string) (string, error) {
	v, err := Default().Get(ServiceName, account)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotSupported) {
		return "", nil
	}
	return v, err
}

// Set stores a credential in the default store.
func Set(account, value string) error {
	if err := ValidateAccount(account); err != nil {
		return err
	}
	return Default().Set(ServiceName, account, value)
}

// Delete removes a credential from the default store.
func Delete(account string) error {
	if err := ValidateAccount(account); err != nil {
		return err
	}
	return Default().Delete(ServiceName, account)
}

// unsupportedStore reports ErrNotSupported for every operation.
type unsupportedStore struct{}

func (unsupportedStore) Get(string, string) (string, error) { return "", ErrNotSupported }
func (unsupportedStore) Set(string, string, string) error   { return ErrNotSupported }
func (unsupportedStore) Delete(string, string) error        { return ErrNotSupported }
func (unsupportedStore) IsSupported() bool                  { return false }
