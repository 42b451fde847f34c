package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Decrypt failures. All of them mean the envelope is unusable; callers must
// not treat a partially parsed payload as success.
var (
	ErrDecrypt          = errors.New("wecom: decrypt failed")
	ErrKeyLength        = errors.New("wecom: encoding AES key must decode to 32 bytes")
	ErrPadding          = errors.New("wecom: invalid block padding")
	ErrLengthField      = errors.New("wecom: message length field out of range")
	ErrReceiverMismatch = errors.New("wecom: receiver id mismatch")
)

const (
	aesKeyLen       = 32
	randomPrefixLen = 16
	lengthFieldLen  = 4
)

// Signature computes the callback signature: SHA-1 over the lexicographically
// sorted concatenation of token, timestamp, nonce and the encrypted blob.
func Signature(token, timestamp, nonce, encrypted string) string {
	parts := []string{token, timestamp, nonce, encrypted}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature reports whether the claimed signature matches the computed
// one. The comparison is constant-time. It never panics and never errors;
// a malformed input simply fails verification.
func VerifySignature(token, timestamp, nonce, encrypted, claimed string) bool {
	expected := Signature(token, timestamp, nonce, encrypted)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1
}

// Envelope encrypts and decrypts callback payloads for a single tenant.
// The plaintext layout is: 16 random bytes, a 4-byte big-endian message
// length, the message bytes, then the receiver id, all under AES-256-CBC
// with PKCS#7 padding and IV = key[:16].
type Envelope struct {
	key        []byte
	receiverID string
}

// NewEnvelope builds an envelope codec from the 43-character encoding AES
// key and the expected receiver identity (the corp id for customer-service
// callbacks).
func NewEnvelope(encodingAESKey, receiverID string) (*Envelope, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("wecom: decode encoding AES key: %w", err)
	}
	if len(key) != aesKeyLen {
		return nil, ErrKeyLength
	}
	return &Envelope{key: key, receiverID: receiverID}, nil
}

// Decrypt decodes and decrypts a base64 ciphertext and returns the embedded
// message bytes. Padding, length-field and receiver-identity violations all
// wrap ErrDecrypt.
func (e *Envelope) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrDecrypt, err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(raw))
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, e.key[:aes.BlockSize]).CryptBlocks(plain, raw)

	plain, err = stripPKCS7(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(plain) < randomPrefixLen+lengthFieldLen {
		return nil, fmt.Errorf("%w: plaintext too short", ErrDecrypt)
	}

	msgLen := binary.BigEndian.Uint32(plain[randomPrefixLen : randomPrefixLen+lengthFieldLen])
	msgEnd := randomPrefixLen + lengthFieldLen + int(msgLen)
	if int(msgLen) > len(plain)-randomPrefixLen-lengthFieldLen {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, ErrLengthField)
	}

	if string(plain[msgEnd:]) != e.receiverID {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, ErrReceiverMismatch)
	}
	return plain[randomPrefixLen+lengthFieldLen : msgEnd], nil
}

// Encrypt is the structural inverse of Decrypt: it wraps msg in the random
// prefix, length field and receiver id, pads, encrypts and base64-encodes.
func (e *Envelope) Encrypt(msg []byte) (string, error) {
	prefix := make([]byte, randomPrefixLen)
	if _, err := rand.Read(prefix); err != nil {
		return "", fmt.Errorf("wecom: random prefix: %w", err)
	}

	buf := make([]byte, 0, randomPrefixLen+lengthFieldLen+len(msg)+len(e.receiverID))
	buf = append(buf, prefix...)
	var lenField [lengthFieldLen]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(msg)))
	buf = append(buf, lenField[:]...)
	buf = append(buf, msg...)
	buf = append(buf, e.receiverID...)
	buf = padPKCS7(buf, aes.BlockSize)

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("wecom: %w", err)
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, e.key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	for i := 0; i < pad; i++ {
		data = append(data, byte(pad))
	}
	return data
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrPadding
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > aes.BlockSize*2 || pad > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-pad], nil
}
