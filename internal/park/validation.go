package park

import (
	"fmt"
	"strings"
)

const maxNameLength = 100

// ValidateName checks that a park or group name is usable as a key.
func ValidateName(name string) error {
	return validateLabel(name, ErrInvalidName)
}

// ValidateGroup checks a group name.
func ValidateGroup(group string) error {
	return validateLabel(group, ErrInvalidGroup)
}

func validateLabel(s string, sentinel error) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: cannot be empty", sentinel)
	}
	if len(s) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", sentinel, maxNameLength)
	}
	return nil
}

// ValidateState checks that s is a defined park state.
func ValidateState(s State) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %d (want 0..3)", ErrInvalidState, int(s))
	}
	return nil
}

// Validate checks every field of a park.
func (p *Park) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := ValidateGroup(p.Group); err != nil {
		return err
	}
	return ValidateState(p.State)
}
