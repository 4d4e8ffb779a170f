package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/scrypt"

	"coldmail/config"
)

var (
	keyOnce   sync.Once
	cachedKey []byte
	keyErr    error
)

// encryptionKey derives a 32-byte AES key from the configured secret.
func encryptionKey() ([]byte, error) {
	keyOnce.Do(func() {
		if config.AppConfig == nil || config.AppConfig.EncryptionKey == "" {
			keyErr = errors.New("encryption key not configured")
			return
		}
		cachedKey, keyErr = scrypt.Key(
			[]byte(config.AppConfig.EncryptionKey),
			[]byte("coldmail.credentials.v1"),
			1<<15, 8, 1, 32,
		)
	})
	return cachedKey, keyErr
}

// Encrypt encrypts plaintext credentials for storage.
func Encrypt(text string) (string, error) {
	key, err := encryptionKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	plaintext := []byte(text)
	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], plaintext)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encrypted string) (string, error) {
	key, err := encryptionKey()
	if err != nil {
		return "", err
	}
	data, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	if len(data) < aes.BlockSize {
		return "", errors.New("ciphertext too short")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	iv := data[:aes.BlockSize]
	data = data[aes.BlockSize:]
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(data, data)
	return string(data), nil
}
