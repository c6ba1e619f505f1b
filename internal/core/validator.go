package core

import (
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"storefront/internal/types"
)

var (
	currencyPattern   = regexp.MustCompile(`^[a-z]{3}$`)
	paymentRefPattern = regexp.MustCompile(`^pi_[A-Za-z0-9]+$`)
)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult carries blocking errors and non-blocking warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result has no errors. Warnings do not count.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the storefront's custom tags.
//
// Custom tags:
//   - currency: a lower-case ISO 4217 code ("usd").
//   - payment_ref: a Stripe payment-intent id ("pi_...").
//
// decimal.Decimal fields validate as float64, so gt=0 and friends apply to
// prices.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so clients can map errors to their payload.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	mustRegister(v, "currency", func(fl validator.FieldLevel) bool {
		return currencyPattern.MatchString(fl.Field().String())
	})
	mustRegister(v, "payment_ref", func(fl validator.FieldLevel) bool {
		return paymentRefPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic("core: register validation " + tag + ": " + err.Error())
	}
}

// ValidateStruct validates s and returns a *types.AppError whose code is that
// of the first failure. Every failure is listed under
// Details["validation_errors"] as []ValidationError.
func (v *Validator) ValidateStruct(s any) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}

	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{"validation_errors": result.Errors},
	)
}

// ValidateStructWithWarnings validates s and returns every failure instead
// of stopping at the first.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	var result ValidationResult

	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: a programming mistake, not client input.
		v.logger.Error("validator misuse", "error", err.Error())
		result.Errors = append(result.Errors, ValidationError{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidPayload),
			Message: "request could not be validated",
		})
		return result
	}

	for _, fe := range fieldErrs {
		field := fieldPath(fe)
		result.Errors = append(result.Errors, ValidationError{
			Field:   field,
			Code:    string(tagToErrorCode(fe.Tag())),
			Message: fieldMessage(field, fe),
		})
	}
	return result
}

// fieldPath drops the top-level struct name from the namespace so
// "createOrderRequest.orderItems[0].qty" becomes "orderItems[0].qty".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func tagToErrorCode(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_if", "required_with", "required_without":
		return types.ErrCodeValidationMissingField
	case "email":
		return types.ErrCodeValidationInvalidEmail
	case "gt", "gte", "lt", "lte":
		return types.ErrCodeValidationInvalidAmount
	default:
		return types.ErrCodeValidationInvalidPayload
	}
}

func fieldMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with", "required_without":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "gte":
		return field + " must be at least " + fe.Param()
	case "min":
		return field + " must have at least " + fe.Param() + " characters or elements"
	case "max":
		return field + " must have at most " + fe.Param() + " characters or elements"
	case "currency":
		return field + " must be a lower-case ISO 4217 currency code"
	case "payment_ref":
		return field + " must be a payment intent id"
	default:
		return field + " is invalid"
	}
}
