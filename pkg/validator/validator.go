package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validator checks tagged structs for completeness.
type Validator interface {
	Validate(interface{}) error
}

type tagValidator struct {
	v *validator.Validate
}

var (
	once     sync.Once
	instance *tagValidator
)

// New returns the shared validator. Field names in errors use the json tag.
func New() Validator {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		instance = &tagValidator{v: v}
	})
	return instance
}

func (t *tagValidator) Validate(obj interface{}) error {
	err := t.v.Struct(obj)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.SplitN(fe.Namespace(), ".", 2)
	name := fe.Field()
	if len(field) == 2 {
		name = field[1]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", name, fe.Param())
	case "eq":
		return fmt.Sprintf("%s must be exactly %s", name, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not repeat an entry", name)
	case "latitude", "longitude":
		return fmt.Sprintf("%s is not a valid %s", name, fe.Tag())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}
