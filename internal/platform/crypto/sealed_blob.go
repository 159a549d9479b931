package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// SealedBlob is an AES-GCM encrypted payload with the salt and nonce needed
// to decrypt it. All three fields are base64 encoded so the blob can be
// persisted as JSON.
type SealedBlob struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
}

var ErrDecryptFailed = errors.New("sealed blob decryption failed")

const (
	keyLength      = 32
	saltLength     = 16
	nonceLength    = 12
	kdfIterations  = 100_000
)

// deriveKey stretches the passphrase into a 256-bit AES key.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keyLength, sha256.New)
}

// Seal encrypts an arbitrary JSON-marshalable payload under a key derived
// from the passphrase. Each call uses a fresh salt and nonce.
func Seal(passphrase string, payload any) (*SealedBlob, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &SealedBlob{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Salt:       base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// Open decrypts a sealed blob into out, which must be a pointer.
// Any tampering, wrong passphrase, or malformed field returns
// ErrDecryptFailed; callers must not branch on the underlying cause.
func Open(passphrase string, blob *SealedBlob, out any) error {
	if blob == nil || blob.Ciphertext == "" || blob.Nonce == "" || blob.Salt == "" {
		return ErrDecryptFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return ErrDecryptFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil || len(nonce) != nonceLength {
		return ErrDecryptFailed
	}
	salt, err := base64.StdEncoding.DecodeString(blob.Salt)
	if err != nil {
		return ErrDecryptFailed
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return ErrDecryptFailed
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrDecryptFailed
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		return ErrDecryptFailed
	}
	return nil
}
