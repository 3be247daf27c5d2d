package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/ledger-ingest/internal/clock"
)

// ErrorResponse is the body of every non-2xx API reply. Details is keyed by
// the JSON field name the caller sent.
type ErrorResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// RequestValidator checks run options and ingest request bodies against their
// validate tags. Besides the built-in tags it understands iso8601.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	if err := v.RegisterValidation("iso8601", isISO8601); err != nil {
		panic(err)
	}
	return &RequestValidator{v: v}
}

// Check returns validator.ValidationErrors when s fails any rule.
func (rv *RequestValidator) Check(s any) error {
	return rv.v.Struct(s)
}

func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

func isISO8601(fl validator.FieldLevel) bool {
	_, err := clock.ParseISO8601UTC(fl.Field().String())
	return err == nil
}

// FieldProblems flattens validation failures into field -> message. Errors of
// any other kind yield nil.
func FieldProblems(err error) map[string]string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = describeFieldError(fe)
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "iso8601":
		return "must be an ISO-8601 UTC timestamp"
	}
	return fmt.Sprintf("failed the %q rule", fe.Tag())
}

// WriteError replies with an ErrorResponse. cause, when it carries validation
// failures, fills Details.
func WriteError(w http.ResponseWriter, status int, message string, cause error) {
	WriteJSON(w, status, ErrorResponse{
		Error:   message,
		Details: FieldProblems(cause),
	})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
