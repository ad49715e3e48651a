package token

import (
	"errors"
	"fmt"
	"strings"
)

const (
	defaultKeyID   = "v1"
	minSecretBytes = 16
)

type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the HMAC secrets accepted for verification. The first key
// signs new tokens; the rest remain valid until they are removed, which is
// how secrets are rotated.
type Keyring struct {
	keys []Key
	byID map[string][]byte
}

func NewKeyring(keys ...Key) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("token keyring requires at least one key")
	}
	ring := &Keyring{
		keys: make([]Key, 0, len(keys)),
		byID: make(map[string][]byte, len(keys)),
	}
	for _, key := range keys {
		id := strings.TrimSpace(key.ID)
		if id == "" {
			return nil, errors.New("token key id is required")
		}
		if len(key.Secret) < minSecretBytes {
			return nil, fmt.Errorf("token key %q must be at least %d bytes", id, minSecretBytes)
		}
		if _, dup := ring.byID[id]; dup {
			return nil, fmt.Errorf("duplicate token key id %q", id)
		}
		secret := append([]byte(nil), key.Secret...)
		ring.keys = append(ring.keys, Key{ID: id, Secret: secret})
		ring.byID[id] = secret
	}
	return ring, nil
}

// ParseKeyring reads "id=secret,id=secret". A value without "=" is taken as
// a single secret under the default key id.
func ParseKeyring(spec string) (*Keyring, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("token signing keys are required")
	}
	if !strings.Contains(spec, "=") {
		return NewKeyring(Key{ID: defaultKeyID, Secret: []byte(spec)})
	}

	var keys []Key
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, errors.New("invalid token signing key entry")
		}
		id := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if id == "" || value == "" {
			return nil, errors.New("invalid token signing key entry")
		}
		keys = append(keys, Key{ID: id, Secret: []byte(value)})
	}
	return NewKeyring(keys...)
}

func (k *Keyring) signing() Key {
	return k.keys[0]
}

// candidates orders the secrets to try for a token carrying kid.
func (k *Keyring) candidates(kid string) [][]byte {
	out := make([][]byte, 0, len(k.keys))
	if secret, ok := k.byID[kid]; ok {
		out = append(out, secret)
	}
	for _, key := range k.keys {
		if key.ID == kid {
			continue
		}
		out = append(out, key.Secret)
	}
	return out
}

func (k *Keyring) IDs() []string {
	out := make([]string, 0, len(k.keys))
	for _, key := range k.keys {
		out = append(out, key.ID)
	}
	return out
}
