package config

import (
	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond `required` tags. Validate runs after all sources are applied.
// Returned *sserr.Error values pass through unchanged; any other error is
// wrapped with [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func checkRequired(f field) error {
	if f.tag.Get("required") != "true" || !f.value.IsZero() {
		return nil
	}
	return sserr.Newf(sserr.CodeValidationRequired,
		"config: required field %q is empty", f.path)
}

func runValidator(cfg any) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isCoded := sserr.AsError(err); isCoded {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: custom validation failed")
	}
	return nil
}
