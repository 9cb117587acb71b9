package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealerInfo はHKDFのinfoに使うドメイン分離文字列。
const sealerInfo = "tenantdesk session store v1"

// ErrUnsealFailed は暗号化された値を復号できなかった場合のエラー。
// 鍵の変更やファイルの改ざんで発生する。
var ErrUnsealFailed = errors.New("failed to unseal session value")

// Sealer はセッション値を保存前に暗号化する。
// 端末の秘密値とデバイスIDからHKDF-SHA256で鍵を導出し、XChaCha20-Poly1305で暗号化する。
// キー名を追加認証データに使うため、別のキーへ値を付け替えると復号に失敗する。
type Sealer struct {
	key []byte
}

// NewSealer はsecretとdeviceIDからSealerを生成する。
func NewSealer(secret, deviceID string) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("sealer secret is empty")
	}

	kdf := hkdf.New(sha256.New, []byte(secret), []byte(deviceID), []byte(sealerInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealer key: %w", err)
	}

	return &Sealer{key: key}, nil
}

// Seal はvalueを暗号化し、nonceを先頭に付けたbase64文字列を返す。
func (s *Sealer) Seal(key, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open はSealで暗号化された値を復号する。
func (s *Sealer) Open(key, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrUnsealFailed
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrUnsealFailed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", ErrUnsealFailed
	}

	return string(plain), nil
}
