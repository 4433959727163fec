package domain

import "fmt"

// Mode is the workload profile the loop is currently running.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeDegraded
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeDegraded:
		return "DEGRADED"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode accepts the exact wire names only.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "NORMAL":
		return ModeNormal, nil
	case "DEGRADED":
		return ModeDegraded, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	if m != ModeNormal && m != ModeDegraded {
		return nil, fmt.Errorf("invalid mode %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
