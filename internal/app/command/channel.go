// Package command turns raw override payloads from any transport into mode
// changes on the controller.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisRT/internal/app/throttle"
	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// ModeKey is the only key a command object is required to carry.
const ModeKey = "Mode"

var (
	ErrMalformed   = errors.New("command: payload is not a JSON object")
	ErrMissingMode = errors.New(`command: "Mode" key missing`)
	ErrBadMode     = errors.New("command: unknown mode")
)

// Overrider is the slice of the controller the channel needs.
type Overrider interface {
	Override(m domain.Mode) bool
}

type Channel struct {
	target Overrider
	obs    ports.Observability
	errLog *throttle.Logger
}

func NewChannel(target Overrider, obs ports.Observability) *Channel {
	return &Channel{
		target: target,
		obs:    obs,
		errLog: throttle.New(obs, 2*time.Second, 5),
	}
}

// Handle decodes one payload and applies it. Invalid payloads leave the
// controller untouched; the error is logged, counted and returned.
func (c *Channel) Handle(source string, payload []byte) error {
	mode, err := Decode(payload)
	if err != nil {
		c.obs.IncCounter(ports.MetricCommandsRejected, 1)
		c.errLog.Error("command rejected", err,
			ports.Field{Key: "source", Value: source},
			ports.Field{Key: "bytes", Value: len(payload)},
		)
		return err
	}

	changed := c.target.Override(mode)
	c.obs.IncCounter(ports.MetricCommandsApplied, 1)
	c.obs.LogInfo("mode override applied",
		ports.Field{Key: "source", Value: source},
		ports.Field{Key: "mode", Value: mode.String()},
		ports.Field{Key: "changed", Value: changed},
	)
	return nil
}

// Deliver adapts Handle to the callback shape command sources expect.
func (c *Channel) Deliver(source string) func(payload []byte) {
	return func(payload []byte) { _ = c.Handle(source, payload) }
}

// Decode extracts the requested mode. The key match is exact: {"mode": ...}
// is rejected. Extra keys are ignored.
func Decode(payload []byte) (domain.Mode, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return 0, ErrMalformed
	}
	raw, ok := obj[ModeKey]
	if !ok {
		return 0, ErrMissingMode
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return 0, fmt.Errorf("%w: value is not a string", ErrBadMode)
	}
	mode, err := domain.ParseMode(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadMode, name)
	}
	return mode, nil
}
