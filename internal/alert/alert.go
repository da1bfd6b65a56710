// Package alert defines the security alert record accepted for triage and the
// decoders that turn source payloads into it.
package alert

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Alert is a single security event awaiting triage. It is treated as
// immutable once ingested.
type Alert struct {
	ID          string    `json:"id" validate:"nonblank,max=256"`
	Source      string    `json:"source,omitempty" validate:"max=256"`
	Severity    string    `json:"severity,omitempty" validate:"max=64"`
	Description string    `json:"description" validate:"nonblank,max=65536"`
	Timestamp   time.Time `json:"timestamp"`
}

// FieldError describes a single field that failed validation.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every field of an alert that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		switch f.Rule {
		case "nonblank":
			parts = append(parts, f.Field+" is required")
		case "max":
			parts = append(parts, f.Field+" is too long")
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
		}
	}
	return "invalid alert: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// report json names so errors match what the sender wrote
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		validate = v
	})
	return validate
}

// Validate checks the minimum fields needed for triage. The returned error
// is a *ValidationError when the alert itself is at fault.
func (a *Alert) Validate() error {
	if a == nil {
		return &ValidationError{Fields: []FieldError{{Field: "alert", Rule: "nonblank"}}}
	}
	err := validatorInstance().Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate alert: %w", err)
	}
	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}
