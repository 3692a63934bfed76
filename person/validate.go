package person

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid matches every validation failure via errors.Is.
var ErrInvalid = errors.New("socialgraph: invalid input")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError lists every problem found with a caller-supplied value.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalid.Error(), strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalid) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Invalid builds a ValidationError from a single formatted message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// Validate checks the normalized form of r against the record constraints.
// r itself is not modified.
func Validate(r *Record) error {
	if r == nil {
		return Invalid("record is required")
	}
	if err := validate.Struct(r.Normalized()); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateFor is Validate plus the rule that a record never lists itself as a friend.
func ValidateFor(id uint64, r *Record) error {
	if err := Validate(r); err != nil {
		return err
	}
	if r.HasFriend(id) {
		return Invalid("friendIds must not contain the person's own id %d", id)
	}
	return nil
}

func formatValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		problems = append(problems, formatFieldError(e))
	}
	return &ValidationError{Problems: problems}
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field()[:1]) + e.Field()[1:]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
