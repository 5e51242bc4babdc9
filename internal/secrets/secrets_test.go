package secrets

import (
	"errors"
	"testing"
)

type memoryStore struct {
	items map[string]string
	err   error
}

func (m *memoryStore) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.items[service+"/"+account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryStore) Set(service, account, password string) error {
	m.items[service+"/"+account] = password
	return nil
}

func (m *memoryStore) Delete(service, account string) error {
	key := service + "/" + account
	if _, ok := m.items[key]; !ok {
		return ErrNotFound
	}
	delete(m.items, key)
	return nil
}

func (m *memoryStore) IsSupported() bool { return true }

func withStore(t *testing.T, s Store) {
	t.Helper()
	prev := store
	store = s
	t.Cleanup(func() { store = prev })
}

func TestUnsupportedStore(t *testing.T) {
	s := unsupportedStore{}
	if _, err := s.Get("s", "a"); err != ErrNotSupported {
		t.Errorf("Get() error = %v, want %v", err, ErrNotSupported)
	}
	if err := s.Set("s", "a", "p"); err != ErrNotSupported {
		t.Errorf("Set() error = %v, want %v", err, ErrNotSupported)
	}
	if err := s.Delete("s", "a"); err != ErrNotSupported {
		t.Errorf("Delete() error = %v, want %v", err, ErrNotSupported)
	}
	if s.IsSupported() {
		t.Error("IsSupported() = true, want false")
	}
}

func TestLookup_FallsThrough(t *testing.T) {
	withStore(t, unsupportedStore{})

	v, err := Lookup(AccountTelegramToken)
	if err != nil || v != "" {
		t.Errorf("Lookup() = %q, %v; want empty, nil", v, err)
	}

	withStore(t, &memoryStore{items: map[string]string{}})
	v, err = Lookup(AccountTelegramToken)
	if err != nil || v != "" {
		t.Errorf("Lookup() on empty store = %q, %v; want empty, nil", v, err)
	}
}

func TestLookup_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("keychain locked")
	withStore(t, &memoryStore{items: map[string]string{}, err: boom})

	if _, err := Lookup(AccountOpenCodePassword); !errors.Is(err, boom) {
		t.Errorf("Lookup() error = %v, want %v", err, boom)
	}
}

func TestSetDelete(t *testing.T) {
	mem := &memoryStore{items: map[string]string{}}
	withStore(t, mem)

	if err := Set(AccountTelegramToken, "123:abc"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := Lookup(AccountTelegramToken); got != "123:abc" {
		t.Errorf("Lookup() = %q, want %q", got, "123:abc")
	}
	if err := Delete(AccountTelegramToken); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := Delete(AccountTelegramToken); err != ErrNotFound {
		t.Errorf("second Delete() error = %v, want %v", err, ErrNotFound)
	}
}

func TestValidateAccount(t *testing.T) {
	if err := ValidateAccount("telegram-token"); err != nil {
		t.Errorf("ValidateAccount(telegram-token) = %v", err)
	}
	if err := Set("nope", "x"); err == nil {
		t.Error("Set(nope) should fail")
	}
}
