// File: config/validation.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance.
var validate = validator.New()

// Validate checks the configuration using struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError rewrites validator output into one readable line
// per failing field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msg := "invalid configuration:"
	for _, fe := range verrs {
		msg += fmt.Sprintf(" %s fails %q;", fe.Namespace(), fe.Tag())
	}
	return errors.New(msg)
}
