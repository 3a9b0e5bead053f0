package middlewares

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftlabs/dispatch"
)

// fakeKeyStore is an in-memory dispatch.KeyStore: current is whichever id
// was stored last.
type fakeKeyStore struct {
	mu      sync.Mutex
	keys    map[string][]byte
	current string
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: make(map[string][]byte)}
}

func (f *fakeKeyStore) CurrentKey() ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return nil, "", fmt.Errorf("no current key")
	}
	return f.keys[f.current], f.current, nil
}

func (f *fakeKeyStore) Key(id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.keys[id]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", id)
	}
	return key, nil
}

func (f *fakeKeyStore) Store(key []byte, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[id] = key
	f.current = id
	return nil
}

func (f *fakeKeyStore) RemoveExpiredBefore(time.Time) error {
	return nil
}

type sensitiveCmd struct {
	SSN       string
	Encrypted []byte
}

func (c *sensitiveCmd) EncryptedFields() map[string][]byte {
	return map[string][]byte{"ssn": []byte(c.SSN)}
}

func (c *sensitiveCmd) SetEncryptedField(field string, sealed []byte) error {
	c.Encrypted = sealed
	return nil
}

type decryptedResult struct {
	Cipher    []byte
	Plaintext []byte
}

func (r *decryptedResult) CipherFields() map[string][]byte {
	return map[string][]byte{"ssn": r.Cipher}
}

func (r *decryptedResult) SetDecryptedField(field string, plaintext []byte) error {
	r.Plaintext = plaintext
	return nil
}

func TestEncryptionEncryptsSensitiveFieldsBeforeNext(t *testing.T) {
	keys := newFakeKeyStore()
	require.NoError(t, keys.Store(make([]byte, 32), "k1"))
	e := NewEncryption(keys)

	cmd := &sensitiveCmd{SSN: "123-45-6789"}
	var observedDuringNext []byte
	_, err := e.Execute(dispatch.NewContext(context.Background(), dispatch.Metadata{}), cmd, func(c interface{}) (interface{}, error) {
		observedDuringNext = c.(*sensitiveCmd).Encrypted
		return nil, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, observedDuringNext)
	assert.NotEqual(t, []byte("123-45-6789"), observedDuringNext)
}

func TestEncryptionDecryptsResultSymmetrically(t *testing.T) {
	keys := newFakeKeyStore()
	require.NoError(t, keys.Store(make([]byte, 32), "k1"))
	e := NewEncryption(keys)

	cmd := &sensitiveCmd{SSN: "123-45-6789"}
	var sealed []byte
	_, err := e.Execute(dispatch.NewContext(context.Background(), dispatch.Metadata{}), cmd, func(c interface{}) (interface{}, error) {
		sealed = c.(*sensitiveCmd).Encrypted
		return nil, nil
	})
	require.NoError(t, err)

	result := &decryptedResult{Cipher: sealed}
	_, err = e.Execute(dispatch.NewContext(context.Background(), dispatch.Metadata{}), "cmd", func(interface{}) (interface{}, error) {
		return result, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", string(result.Plaintext))
}

// TestEncryptionDecryptsAfterKeyRotation confirms a field sealed under a
// key that is no longer CurrentKey can still be opened, as long as the
// key id is still resolvable via Key -- the scenario store/current-key
// rotation exists to support.
func TestEncryptionDecryptsAfterKeyRotation(t *testing.T) {
	keys := newFakeKeyStore()
	require.NoError(t, keys.Store(make([]byte, 32), "k1"))
	e := NewEncryption(keys)

	cmd := &sensitiveCmd{SSN: "123-45-6789"}
	var sealed []byte
	_, err := e.Execute(dispatch.NewContext(context.Background(), dispatch.Metadata{}), cmd, func(c interface{}) (interface{}, error) {
		sealed = c.(*sensitiveCmd).Encrypted
		return nil, nil
	})
	require.NoError(t, err)

	// Rotate: a new key becomes current, but k1 remains resolvable.
	newKey := make([]byte, 32)
	newKey[0] = 1
	require.NoError(t, keys.Store(newKey, "k2"))

	result := &decryptedResult{Cipher: sealed}
	_, err = e.Execute(dispatch.NewContext(context.Background(), dispatch.Metadata{}), "cmd", func(interface{}) (interface{}, error) {
		return result, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "123-45-6789", string(result.Plaintext))
}
