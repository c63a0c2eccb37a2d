// Package pin implements the abstract digital-pin contract of spec §4.3:
// configure direction, write a level, read a level, with the
// value/invert_logic XOR mapping from original_source/pinbmc.py.
package pin

import (
	"errors"
	"fmt"
)

// ErrUnwired is returned by SetValue and GetValue on a pin with no index
// configured — spec §4.3's PIN_UNWIRED error kind. Setup on such a pin
// does nothing and returns nil.
var ErrUnwired = errors.New("pin: PIN_UNWIRED")

// Driver is the capability every pin implementation honours (spec §4.3).
type Driver interface {
	// Setup idempotently brings the hardware to the configured direction
	// and initial level.
	Setup() error
	// SetValue stores v, derives logic_level, writes it, and returns the
	// observed value derived from the post-write logic level.
	SetValue(v bool) (bool, error)
	// GetValue reads the logic level and returns it mapped back through
	// invert_logic.
	GetValue() (bool, error)
}

// Base implements the value<->logic_level XOR mapping shared by every
// concrete pin; concrete types embed Base and pass their own write /
// read functions to Apply / Read.
type Base struct {
	Index        *int // nil means "not wired"
	IsOutput     bool
	InvertLogic  bool
	logicLevel   bool
	value        bool
}

func NewBase(index *int, isOutput bool, initial bool, invertLogic bool) Base {
	b := Base{
		Index:       index,
		IsOutput:    isOutput,
		InvertLogic: invertLogic,
		value:       initial,
	}
	b.logicLevel = b.valueToLogicLevel(initial)
	return b
}

func (b *Base) valueToLogicLevel(v bool) bool {
	return v != b.InvertLogic // XOR
}

func (b *Base) logicLevelToValue(level bool) bool {
	return level != b.InvertLogic
}

func (b *Base) Valid() bool { return b.Index != nil }

func (b *Base) LogicLevel() bool { return b.logicLevel }

func (b *Base) SetLogicLevel(level bool) { b.logicLevel = level }

func (b *Base) Value() bool { return b.value }

// applyValue drives the logic-level mapping and hardware write via the
// supplied write func, then recomputes Value from the post-write level —
// this is the §4.3 SetValue contract, factored so concrete pins only
// need to supply their own hardware write/read functions.
func (b *Base) applyValue(v bool, write func() error) (bool, error) {
	if !b.Valid() {
		return false, fmt.Errorf("pin %w", ErrUnwired)
	}
	b.logicLevel = b.valueToLogicLevel(v)
	if err := write(); err != nil {
		return false, err
	}
	b.value = b.logicLevelToValue(b.logicLevel)
	return b.value, nil
}

func (b *Base) applyRead(read func() (bool, error)) (bool, error) {
	if !b.Valid() {
		return false, fmt.Errorf("pin %w", ErrUnwired)
	}
	level, err := read()
	if err != nil {
		return false, err
	}
	b.logicLevel = level
	b.value = b.logicLevelToValue(level)
	return b.value, nil
}

// Apply/Read are exported hooks concrete types call from their SetValue/
// GetValue implementations.
func (b *Base) Apply(v bool, write func() error) (bool, error) { return b.applyValue(v, write) }
func (b *Base) Read(read func() (bool, error)) (bool, error)   { return b.applyRead(read) }
