package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrSecretKeyInvalid = errors.New("密钥长度必须为 32 字节或 64 位十六进制")
	ErrCiphertextBroken = errors.New("密文无法解密")
)

// SecretBox 对称加密令牌等敏感配置
type SecretBox struct {
	key [32]byte
}

// NewSecretBox 解析密钥：64 位十六进制或 32 字节原文
func NewSecretBox(key string) (*SecretBox, error) {
	var raw []byte
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, ErrSecretKeyInvalid
		}
		raw = decoded
	} else {
		raw = []byte(key)
	}
	if len(raw) != 32 {
		return nil, ErrSecretKeyInvalid
	}

	sb := &SecretBox{}
	copy(sb.key[:], raw)
	return sb, nil
}

// Encrypt 返回 base64(nonce || box)
func (s *SecretBox) Encrypt(plain string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("生成 nonce 失败: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt 解密 Encrypt 的输出
func (s *SecretBox) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) < 24+secretbox.Overhead {
		return "", ErrCiphertextBroken
	}

	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &s.key)
	if !ok {
		return "", ErrCiphertextBroken
	}
	return string(plain), nil
}
