package integrity

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// TagField is the envelope key that carries the integrity tag.
const TagField = "hmac"

var (
	ErrMissingTag  = errors.New("integrity: message has no hmac field")
	ErrBadTag      = errors.New("integrity: hmac is not 64 lowercase hex chars")
	ErrTagMismatch = errors.New("integrity: hmac mismatch")
	ErrEmptyKey    = errors.New("integrity: signing key is empty")

	ErrTrailingData = errors.New("integrity: data after the message object")
)

// Sign returns the lowercase hex HMAC-SHA-256 of the canonical form of fields.
// fields must not contain the tag itself.
func Sign(key []byte, fields any) (string, error) {
	if len(key) == 0 {
		return "", ErrEmptyKey
	}
	msg, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac(key, msg)), nil
}

// Verify checks a received JSON object: the hmac field is removed, the rest
// is canonicalized and signed with key, and the two tags are compared in
// constant time.
func Verify(key []byte, raw []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("integrity: decode message: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return ErrTrailingData
	}

	tagVal, ok := fields[TagField]
	if !ok {
		return ErrMissingTag
	}
	tagHex, ok := tagVal.(string)
	if !ok || !isLowerHex(tagHex, sha256.Size*2) {
		return ErrBadTag
	}
	got, err := hex.DecodeString(tagHex)
	if err != nil {
		return ErrBadTag
	}
	delete(fields, TagField)

	msg, err := Canonicalize(fields)
	if err != nil {
		return err
	}
	if !hmac.Equal(got, mac(key, msg)) {
		return ErrTagMismatch
	}
	return nil
}

func mac(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
