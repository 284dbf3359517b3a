package security

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// CredentialCipherService はデータソース認証情報の暗号化・復号のインターフェース。
// コアは暗号化済みの値を不透明な文字列として扱い、この呼び出し以外で平文を扱わない。
type CredentialCipherService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// ErrInvalidCredentialToken は復号できないトークンを表す。
var ErrInvalidCredentialToken = errors.New("認証情報の復号に失敗しました")

// credentialCipher はFernetトークンによるCredentialCipherServiceの実装。
type credentialCipher struct {
	key *fernet.Key
}

// NewCredentialCipher はシークレットからFernet鍵を導出してCredentialCipherServiceを生成する。
// 鍵はSHA-256(secret)の32バイトで、既存の暗号化済みデータと互換性を持つ。
func NewCredentialCipher(secret string) (*credentialCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("暗号化シークレットが空です")
	}
	sum := sha256.Sum256([]byte(secret))
	key := fernet.Key(sum)
	return &credentialCipher{key: &key}, nil
}

// Encrypt は平文を暗号化してFernetトークンを返す。
func (c *credentialCipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("認証情報の暗号化に失敗しました: %w", err)
	}
	return string(tok), nil
}

// Decrypt はFernetトークンを復号する。有効期限は検証しない。
func (c *credentialCipher) Decrypt(blob string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(blob), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrInvalidCredentialToken
	}
	return string(msg), nil
}
