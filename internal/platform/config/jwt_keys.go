package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// JWTKeyPair is one PEM-encoded RSA key pair in the keys file. Retired kids
// keep a public key (so their tokens validate until expiry) and may drop
// the private half.
type JWTKeyPair struct {
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
	PublicKeyPEM  string `mapstructure:"public_key_pem"`
}

// JWTKeys is the parsed signing-key file.
type JWTKeys struct {
	ActiveKID string                `mapstructure:"active_kid"`
	Keys      map[string]JWTKeyPair `mapstructure:"keys"`
}

// LoadJWTKeys reads the signing-key file referenced by JWT_KEYS_FILE. Key
// material lives in its own file, never in environment variables.
func LoadJWTKeys(path string) (*JWTKeys, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read jwt keys file %s: %w", path, err)
	}

	var keys JWTKeys
	if err := v.Unmarshal(&keys); err != nil {
		return nil, fmt.Errorf("failed to parse jwt keys file %s: %w", path, err)
	}
	if keys.ActiveKID == "" {
		return nil, fmt.Errorf("jwt keys file %s: active_kid is required", path)
	}
	active, ok := keys.Keys[keys.ActiveKID]
	if !ok {
		return nil, fmt.Errorf("jwt keys file %s: active_kid %q has no key entry", path, keys.ActiveKID)
	}
	if active.PrivateKeyPEM == "" || active.PublicKeyPEM == "" {
		return nil, fmt.Errorf("jwt keys file %s: active kid %q must carry both key halves", path, keys.ActiveKID)
	}
	return &keys, nil
}

// PrivateKeyPEMs returns kid -> private key PEM for every kid that has one.
func (k *JWTKeys) PrivateKeyPEMs() map[string]string {
	out := make(map[string]string, len(k.Keys))
	for kid, pair := range k.Keys {
		if pair.PrivateKeyPEM != "" {
			out[kid] = pair.PrivateKeyPEM
		}
	}
	return out
}

// PublicKeyPEMs returns kid -> public key PEM.
func (k *JWTKeys) PublicKeyPEMs() map[string]string {
	out := make(map[string]string, len(k.Keys))
	for kid, pair := range k.Keys {
		if pair.PublicKeyPEM != "" {
			out[kid] = pair.PublicKeyPEM
		}
	}
	return out
}
