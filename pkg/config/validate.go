package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ConfigError names the first configuration field that failed validation.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

var validate = newValidator()

func newValidator() func(*Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	if err := registerCustomValidators(v); err != nil {
		panic(err)
	}

	return func(c *Config) error {
		err := v.Struct(c)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return &ConfigError{Field: "config", Reason: err.Error()}
		}
		first := verrs[0]
		return &ConfigError{Field: fieldPath(first), Reason: reason(first)}
	}
}

func registerCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return fmt.Errorf("failed to register notblank validator: %w", err)
	}
	if err := v.RegisterValidation("cors_policy", func(fl validator.FieldLevel) bool {
		return CORSPolicy(fl.Field().String()).Valid()
	}); err != nil {
		return fmt.Errorf("failed to register cors_policy validator: %w", err)
	}
	return nil
}

// fieldPath drops the root struct name and any element index:
// "Config.allowed_hosts[1]" becomes "allowed_hosts".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	if i := strings.IndexByte(ns, '['); i >= 0 {
		ns = ns[:i]
	}
	return ns
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gtfield":
		return "must be greater than " + toSnake(fe.Param())
	case "notblank":
		return "must not be empty"
	case "min":
		return "must contain at least " + fe.Param() + " entry"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "required_unless":
		return "is required"
	case "cors_policy":
		return "must be disabled, \"*\" or an http(s) origin"
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
