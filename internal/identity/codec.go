package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrDecode reports a payload that could not be turned back into an identity:
// corrupt ciphertext, wrong key, or malformed serialization.
var ErrDecode = errors.New("invalid identity payload")

const (
	keyLen = 32
	ivLen  = aes.BlockSize
	// hex-encoded IV prefix on every encrypted payload
	ivHexLen = ivLen * 2
)

// Payload is the identity embedded in a QR code.
type Payload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	StudentID string `json:"studentId"`
	RoomID    string `json:"roomId,omitempty"`
}

// Codec encodes and decodes identity payloads. With an empty secret the
// payload is plain JSON; otherwise it is AES-256-CBC encrypted with a random
// IV prepended in hex.
type Codec struct {
	key []byte
}

// NewCodec derives the AES key by right-padding the secret with spaces to 32
// bytes and truncating. An empty secret disables encryption.
func NewCodec(secret string) *Codec {
	if secret == "" {
		return &Codec{}
	}
	key := make([]byte, keyLen)
	for i := range key {
		key[i] = ' '
	}
	copy(key, secret)
	return &Codec{key: key}
}

// Encrypting reports whether payloads are encrypted.
func (c *Codec) Encrypting() bool { return len(c.key) == keyLen }

// Encode serializes the payload, encrypting it when a secret is configured.
// Two calls with the same payload produce different ciphertexts (random IV)
// that decode identically.
func (c *Codec) Encode(p Payload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if !c.Encrypting() {
		return string(plain), nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + base64.StdEncoding.EncodeToString(ct), nil
}

// Decode reverses Encode. Any structural problem — short input, bad hex or
// base64, bad padding, an empty plaintext, or non-JSON content — yields
// ErrDecode rather than a silently wrong identity.
func (c *Codec) Decode(payload string) (Payload, error) {
	var plain []byte
	if !c.Encrypting() {
		plain = []byte(payload)
	} else {
		var err error
		plain, err = c.decrypt(payload)
		if err != nil {
			return Payload{}, err
		}
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if p.FirstName == "" && p.LastName == "" && p.StudentID == "" {
		return Payload{}, fmt.Errorf("%w: empty identity", ErrDecode)
	}
	return p, nil
}

func (c *Codec) decrypt(payload string) ([]byte, error) {
	if len(payload) <= ivHexLen {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecode)
	}
	iv, err := hex.DecodeString(payload[:ivHexLen])
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv: %v", ErrDecode, err)
	}
	ct, err := base64.StdEncoding.DecodeString(payload[ivHexLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding: %v", ErrDecode, err)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block-aligned", ErrDecode)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, err
	}
	if len(plain) == 0 {
		return nil, fmt.Errorf("%w: decryption yielded empty result", ErrDecode)
	}
	return plain, nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("%w: bad padded length", ErrDecode)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecode)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecode)
		}
	}
	return b[:len(b)-n], nil
}
