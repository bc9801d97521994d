package escrow

import (
	"errors"
	"fmt"
)

// ErrInvalidStage is returned when a stored or supplied stage code is not
// one of the defined stages.
var ErrInvalidStage = errors.New("invalid escrow stage")

// Stage is the lifecycle position of an escrow. The numeric codes are part
// of the persisted record format.
type Stage uint8

const (
	StageInitialized Stage = 1 // funds locked in the holding account
	StageCompleted   Stage = 2 // released to the receiver
	StagePulledBack  Stage = 3 // returned to the sender
)

// ParseStage validates a stage code.
func ParseStage(code uint8) (Stage, error) {
	s := Stage(code)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStage, code)
	}
	return s, nil
}

func (s Stage) Valid() bool {
	return s >= StageInitialized && s <= StagePulledBack
}

// IsTerminal returns true for stages no transition leaves.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StagePulledBack
}

// CanTransitionTo reports whether next may follow s. Only Initialized has
// successors, and nothing returns to Initialized.
func (s Stage) CanTransitionTo(next Stage) bool {
	return s == StageInitialized && next.IsTerminal()
}

func (s Stage) String() string {
	switch s {
	case StageInitialized:
		return "initialized"
	case StageCompleted:
		return "completed"
	case StagePulledBack:
		return "pulled_back"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	switch string(text) {
	case "initialized":
		*s = StageInitialized
	case "completed":
		*s = StageCompleted
	case "pulled_back":
		*s = StagePulledBack
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStage, text)
	}
	return nil
}
