// Package validation checks structs against their `validate` tags and
// reports problems keyed by JSON field name.
package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}

	return v
}

// Struct validates payload and returns one message per failed field, or nil
// when payload is valid.
func Struct(payload any) map[string]string {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	problems := make(map[string]string)

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		problems["_"] = err.Error()
		return problems
	}

	for _, fe := range fieldErrors {
		name := fe.Field()
		switch fe.Tag() {
		case "required", "notblank":
			problems[name] = "is required"
		case "min", "gte":
			problems[name] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max", "lte":
			problems[name] = fmt.Sprintf("must be at most %s", fe.Param())
		default:
			problems[name] = "is invalid"
		}
	}

	return problems
}
