package blueprint

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Issue is a single blueprint validation problem.
type Issue struct {
	// Field is the dotted path of the offending field, e.g. data_model.tags[2].
	Field string `json:"field"`

	// Rule is the violated rule (required, unique, min, schema).
	Rule string `json:"rule"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// ValidationError reports every problem found in a blueprint.
type ValidationError struct {
	Issues []Issue `json:"issues"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Field == "" {
			parts = append(parts, issue.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "invalid blueprint: " + strings.Join(parts, "; ")
}

// Validate checks the decoded blueprint and returns a *ValidationError
// describing every violation, or nil.
func (b *Blueprint) Validate() error {
	if b == nil {
		return &ValidationError{Issues: []Issue{{Rule: "required", Message: "blueprint is nil"}}}
	}

	err := validate.Struct(b)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate blueprint: %w", err)
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, Issue{
			Field:   strings.TrimPrefix(fe.Namespace(), "Blueprint."),
			Rule:    fe.Tag(),
			Message: describeRule(fe),
		})
	}
	return &ValidationError{Issues: issues}
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "unique":
		if fe.Param() != "" {
			return fmt.Sprintf("must not contain duplicate %s values", strings.ToLower(fe.Param()))
		}
		return "must not contain duplicates"
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	default:
		return fmt.Sprintf("failed %q rule", fe.Tag())
	}
}
