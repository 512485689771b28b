package core

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RawRow is one data row mapped through the header. A nil field means the
// cell was absent (short row); an empty string means it was present but blank.
type RawRow struct {
	CompanyName *string
	Email       *string
	PhoneNumber *string
}

// ValidationResult is the outcome of validating one row.
type ValidationResult struct {
	Row      int
	Messages []string
}

// Valid reports whether the row passed every rule.
func (r ValidationResult) Valid() bool {
	return len(r.Messages) == 0
}

// companyInput carries the validation rules for a company row.
type companyInput struct {
	CompanyName string `json:"company_name" validate:"required,max=100"`
	Email       string `json:"email" validate:"omitempty,email,max=100"`
	PhoneNumber string `json:"phone_number" validate:"omitempty,max=15"`
}

// Validator checks company rows. It is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a Validator that reports fields by their column name.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate checks one row. It never fails: problems are reported as messages.
func (v *Validator) Validate(row RawRow, rowNumber int) ValidationResult {
	input := companyInput{
		CompanyName: deref(row.CompanyName),
		Email:       deref(row.Email),
		PhoneNumber: deref(row.PhoneNumber),
	}

	result := ValidationResult{Row: rowNumber}
	err := v.validate.Struct(input)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		result.Messages = append(result.Messages, err.Error())
		return result
	}
	for _, fe := range fieldErrs {
		result.Messages = append(result.Messages, fieldMessage(fe))
	}
	return result
}

// fieldMessage renders a field error as a sentence.
func fieldMessage(fe validator.FieldError) string {
	label := strings.ReplaceAll(fe.Field(), "_", " ")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", label)
	case "max":
		return fmt.Sprintf("The %s field must not be greater than %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", label)
	default:
		return fmt.Sprintf("The %s field is invalid.", label)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
