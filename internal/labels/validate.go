package labels

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// ValidationError reports the first invalid input field.
type ValidationError = models.ValidationError

var (
	validate     *validator.Validate
	validateOnce sync.Once

	clockRegex  = regexp.MustCompile(`^\d+$`)
	palletRegex = regexp.MustCompile(`^\d{6}/\d+$`)
)

// Validator returns the shared validator with the label rules registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("clock", validateClock)
		_ = validate.RegisterValidation("pallet", validatePallet)

		// Report JSON field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validateClock accepts positive clock numbers.
func validateClock(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return clockRegex.MatchString(v) && strings.Trim(v, "0") != ""
}

// validatePallet accepts pallet numbers like 090525/14.
func validatePallet(fl validator.FieldLevel) bool {
	return palletRegex.MatchString(strings.TrimSpace(fl.Field().String()))
}

// check validates a struct and converts the first failure into a
// ValidationError.
func check(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return &ValidationError{Field: e.Field(), Reason: reason(e)}
	}
	return &ValidationError{Field: "input", Reason: err.Error()}
}

func reason(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "clock":
		return "must be a positive clock number"
	case "pallet":
		return "must be a pallet number like 090525/14"
	default:
		return "is invalid"
	}
}

// Validate checks an input without preparing it.
func Validate(in Input) error {
	switch v := in.(type) {
	case QCInput:
		return check(v.normalized())
	case *QCInput:
		return check(v.normalized())
	case GRNInput, ReprintInput:
		return check(v)
	case *ReprintInput:
		return check(*v)
	case *GRNInput:
		return check(*v)
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported input %T", in)}
	}
}
