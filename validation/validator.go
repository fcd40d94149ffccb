// Package validation validates request DTOs with go-playground/validator.
//
// The validator is a process-wide singleton; it caches struct metadata.
//
//	type createItemRequest struct {
//	    Name   string `json:"name" validate:"required,max=120"`
//	    Points int64  `json:"points" validate:"gte=1"`
//	    Kind   string `json:"kind" validate:"oneof=earn redeem"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    // err unwraps to points.ErrValidation
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/warp/loyalty-engine/points"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error collects the failed rules of one struct.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

func (e *Error) Unwrap() error {
	return points.ErrValidation
}

// Get returns the singleton validator.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON names so messages match the request body.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		if err := validate.RegisterValidation("cardid", func(fl validator.FieldLevel) bool {
			return points.IsValidCardID(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("validation: register cardid: %v", err))
		}
	})
	return validate
}

// ValidateStruct returns nil or an *Error.
func ValidateStruct(s any) error {
	err := Get().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	out := &Error{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: translate(fe),
		}
	}
	return out
}

var messages = map[string]string{
	"required":         "%s is required",
	"email":            "%s must be a valid email address",
	"cardid":           "%s must look like ABCD-123456",
	"required_without": "%s is required",
}

var messagesWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"ne":    "%s must not be %s",
}

func translate(fe validator.FieldError) string {
	if t, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(t, fe.Field())
	}
	if t, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(t, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
