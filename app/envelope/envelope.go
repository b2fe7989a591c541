// Package envelope implements the hybrid encryption envelope used by the
// cardgate transport: AES-256-CTR for the payload, RSA-OAEP for the one-time
// symmetric key and an RSA PKCS#1 v1.5 SHA-256 signature over the plaintext.
package envelope

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keySize = 32
	ivSize  = aes.BlockSize
)

var (
	ErrKeyMaterial = errors.New("invalid envelope key material")
	ErrDecode      = errors.New("envelope decode failed")
)

type Sealed struct {
	CipherText   string `json:"info"`
	EncryptedKey string `json:"key"`
	Signature    string `json:"sign"`
}

type keyBundle struct {
	Key string `json:"key"`
	IV  string `json:"iv"`
}

// Envelope seals requests for the peer and opens responses addressed to us.
// own signs outgoing payloads and unwraps incoming keys; peer wraps outgoing
// keys and verifies incoming signatures.
type Envelope struct {
	own    *rsa.PrivateKey
	peer   *rsa.PublicKey
	random io.Reader
}

func New(own *rsa.PrivateKey, peer *rsa.PublicKey) (*Envelope, error) {
	if own == nil {
		return nil, fmt.Errorf("%w: private key is missing", ErrKeyMaterial)
	}
	if peer == nil {
		return nil, fmt.Errorf("%w: gateway public key is missing", ErrKeyMaterial)
	}
	if err := own.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	return &Envelope{own: own, peer: peer, random: rand.Reader}, nil
}

func (e *Envelope) SealJSON(payload interface{}) (*Sealed, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return e.Seal(plaintext)
}

func (e *Envelope) Seal(plaintext []byte) (*Sealed, error) {
	key := make([]byte, keySize)
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(e.random, key); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(e.random, iv); err != nil {
		return nil, err
	}

	ciphertext, err := xorCTR(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	bundle, err := json.Marshal(keyBundle{
		Key: base64.StdEncoding.EncodeToString(key),
		IV:  base64.StdEncoding.EncodeToString(iv),
	})
	if err != nil {
		return nil, err
	}
	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), e.random, e.peer, bundle, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap envelope key: %w", err)
	}

	digest := sha256.Sum256(plaintext)
	signature, err := rsa.SignPKCS1v15(e.random, e.own, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign envelope: %w", err)
	}

	return &Sealed{
		CipherText:   base64.StdEncoding.EncodeToString(ciphertext),
		EncryptedKey: base64.StdEncoding.EncodeToString(wrappedKey),
		Signature:    base64.StdEncoding.EncodeToString(signature),
	}, nil
}

func (e *Envelope) Open(sealed *Sealed) ([]byte, error) {
	if sealed == nil {
		return nil, fmt.Errorf("%w: empty envelope", ErrDecode)
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(sealed.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not base64", ErrDecode)
	}
	rawBundle, err := rsa.DecryptOAEP(sha256.New(), nil, e.own, wrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap key: %v", ErrDecode, err)
	}

	var bundle keyBundle
	if err := json.Unmarshal(rawBundle, &bundle); err != nil {
		return nil, fmt.Errorf("%w: key bundle is not json", ErrDecode)
	}
	key, err := base64.StdEncoding.DecodeString(bundle.Key)
	if err != nil || len(key) != keySize {
		return nil, fmt.Errorf("%w: bad symmetric key", ErrDecode)
	}
	iv, err := base64.StdEncoding.DecodeString(bundle.IV)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: bad iv", ErrDecode)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealed.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: info is not base64", ErrDecode)
	}
	plaintext, err := xorCTR(key, iv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	signature, err := base64.StdEncoding.DecodeString(sealed.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: sign is not base64", ErrDecode)
	}
	digest := sha256.Sum256(plaintext)
	if err := rsa.VerifyPKCS1v15(e.peer, crypto.SHA256, digest[:], signature); err != nil {
		return nil, fmt.Errorf("%w: signature mismatch", ErrDecode)
	}

	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("%w: payload is not json", ErrDecode)
	}

	return plaintext, nil
}

// DecodeResponse returns the business payload of a gateway response. Bodies
// carrying all of info, key and sign are opened; anything else is returned as
// is, because the gateway answers some methods in plaintext.
func (e *Envelope) DecodeResponse(body []byte) ([]byte, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false, fmt.Errorf("%w: response is not a json object", ErrDecode)
	}

	sealed, ok := sealedFromFields(fields)
	if !ok {
		return body, false, nil
	}

	plaintext, err := e.Open(sealed)
	if err != nil {
		return nil, true, err
	}
	return plaintext, true, nil
}

func sealedFromFields(fields map[string]json.RawMessage) (*Sealed, bool) {
	info, okInfo := stringField(fields, "info")
	key, okKey := stringField(fields, "key")
	sign, okSign := stringField(fields, "sign")
	if !okInfo || !okKey || !okSign {
		return nil, false
	}
	return &Sealed{CipherText: info, EncryptedKey: key, Signature: sign}, true
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var value string
	if json.Unmarshal(raw, &value) != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func xorCTR(key, iv, input []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	output := make([]byte, len(input))
	cipher.NewCTR(block, iv).XORKeyStream(output, input)
	return output, nil
}
