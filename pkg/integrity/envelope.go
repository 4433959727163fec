package integrity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// NonceBytes is the amount of randomness carried by each envelope.
const NonceBytes = 4

// Envelope wraps an arbitrary JSON object with an integrity tag computed
// over the canonical form of every other field.
type Envelope struct {
	DeviceID string `json:"device_id"`
	TsMs     int64  `json:"ts_ms"`
	Nonce    string `json:"nonce"`
	Data     any    `json:"data"`
	HMAC     string `json:"hmac"`
}

// Signer seals telemetry bodies into signed envelopes for one device.
// The key is shared read-only for the lifetime of the process.
type Signer struct {
	deviceID string
	key      []byte
	now      func() time.Time
	rand     io.Reader
}

type SignerOption func(*Signer)

// WithClock overrides the wall clock used for ts_ms.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the nonce source.
func WithRandom(r io.Reader) SignerOption {
	return func(s *Signer) {
		if r != nil {
			s.rand = r
		}
	}
}

func NewSigner(deviceID string, key []byte, opts ...SignerOption) (*Signer, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if deviceID == "" {
		return nil, fmt.Errorf("integrity: device id is required")
	}
	s := &Signer{
		deviceID: deviceID,
		key:      append([]byte(nil), key...),
		now:      time.Now,
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Seal builds a fresh envelope around data. Every call draws a new nonce
// and timestamp so no two envelopes share a canonical form.
func (s *Signer) Seal(data any) (*Envelope, error) {
	var nonce [NonceBytes]byte
	if _, err := io.ReadFull(s.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("integrity: nonce: %w", err)
	}

	env := &Envelope{
		DeviceID: s.deviceID,
		TsMs:     s.now().UnixMilli(),
		Nonce:    hex.EncodeToString(nonce[:]),
		Data:     data,
	}
	tag, err := Sign(s.key, unsignedFields(env))
	if err != nil {
		return nil, err
	}
	env.HMAC = tag
	return env, nil
}

// Verify checks a raw envelope against the signer's key.
func (s *Signer) Verify(raw []byte) error {
	return Verify(s.key, raw)
}

func (s *Signer) DeviceID() string { return s.deviceID }

func unsignedFields(env *Envelope) map[string]any {
	return map[string]any{
		"device_id": env.DeviceID,
		"ts_ms":     env.TsMs,
		"nonce":     env.Nonce,
		"data":      env.Data,
	}
}
