package orders

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/juju/errors"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
)

// MinReasonLength is the shortest trimmed reason accepted for cancellation
// and refund requests.
const MinReasonLength = 10

var validate = newValidator()

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("reason", validReason); err != nil {
		panic(err)
	}
	return v
}

func validReason(fl validatorv10.FieldLevel) bool {
	return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= MinReasonLength
}

// CheckReason rejects a reason shorter than MinReasonLength once trimmed.
func CheckReason(reason string) error {
	return validationErr(validate.Var(reason, "reason"), "reason")
}

func checkStruct(s any) error {
	return validationErr(validate.Struct(s), "")
}

func validationErr(err error, name string) error {
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return errors.Trace(err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if field == "" {
			field = name
		}
		msgs = append(msgs, fieldMessage(field, fe))
	}
	return apperr.Validation(strings.Join(msgs, "; "))
}

func fieldMessage(field string, fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "reason":
		return fmt.Sprintf("%s must be at least %d characters", field, MinReasonLength)
	case "email":
		return field + " is not a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
