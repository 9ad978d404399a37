package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	KindPrecondition = "precondition"
	KindState        = "state"
)

// ValidationError is a blocking failure. Kind tells a missing or bad input
// (precondition) apart from an action the current state forbids (state).
type ValidationError struct {
	Kind    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func precondition(format string, args ...any) error {
	return ValidationError{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

func stateGuard(format string, args ...any) error {
	return ValidationError{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError of the given kind.
// An empty kind matches any.
func IsValidation(err error, kind string) bool {
	var ve ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return kind == "" || ve.Kind == kind
}

var validate = validator.New()

// checkInput runs struct tag validation and folds failures into one
// precondition error.
func checkInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	parts := make([]string, 0, len(fields))
	for _, fe := range fields {
		parts = append(parts, describeField(fe))
	}
	return ValidationError{Kind: KindPrecondition, Message: strings.Join(parts, "; ")}
}

func describeField(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
