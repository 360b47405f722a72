package solana

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// Environment variables holding signing keys.
const (
	EnvSwarmKeys = "SWARM_PRIVATE_KEYS_BASE58"
	EnvSingleKey = "SOLANA_PRIVATE_KEY_BASE58"
)

// Keyring maps wallet addresses onto their signing keys.
type Keyring struct {
	keys map[string]solana.PrivateKey
}

// NewKeyring indexes keys by their public address.
func NewKeyring(keys ...solana.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[string]solana.PrivateKey, len(keys))}
	for _, key := range keys {
		k.keys[key.PublicKey().String()] = key
	}
	return k
}

// Signer returns the key for address.
func (k *Keyring) Signer(address string) (solana.PrivateKey, bool) {
	key, ok := k.keys[address]
	return key, ok
}

// Addresses lists the public keys in the ring, sorted.
func (k *Keyring) Addresses() []string {
	out := make([]string, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len reports how many signers the keyring holds.
func (k *Keyring) Len() int { return len(k.keys) }

// LoadKeyringFromEnv reads comma separated base58 keys from SWARM_PRIVATE_KEYS_BASE58, falling back
// to the single key in SOLANA_PRIVATE_KEY_BASE58.
func LoadKeyringFromEnv() (*Keyring, error) { return LoadKeyring(EnvSwarmKeys) }

// LoadKeyring is LoadKeyringFromEnv reading the key list from env instead.
func LoadKeyring(env string) (*Keyring, error) {
	_ = godotenv.Load() // best-effort
	if env == "" {
		env = EnvSwarmKeys
	}
	raw := os.Getenv(env)
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv(EnvSingleKey)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New(env + " and " + EnvSingleKey + " not set")
	}
	var keys []solana.PrivateKey
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, err := solana.PrivateKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, errors.New("no signing keys found")
	}
	return NewKeyring(keys...), nil
}
