package config

import (
	"errors"
	"fmt"
)

var ErrInvalidSettings = errors.New("invalid settings")

// ValidationError reports the settings key that failed validation.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Key, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidSettings }
