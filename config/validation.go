package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ar-nelson/tapir-sub001/trust"
)

// ValidationError lists every invalid setting.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one invalid setting, named by its config key path.
type FieldError struct {
	Key     string
	Message string
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Key + ": " + f.Message
	}
	return "config: invalid settings: " + strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report koanf key names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	_ = v.RegisterValidation("trust_level", func(fl validator.FieldLevel) bool {
		_, err := trust.ParseLevel(fl.Field().String())
		return err == nil
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(Config)
		if cfg.Redis.Addr != "" {
			return
		}
		if cfg.Trust.Store == StoreRedis {
			sl.ReportError(cfg.Trust.Store, "trust.store", "Store", "needs_redis", "")
		}
		if cfg.Breaker.Enabled && cfg.Breaker.Distributed {
			sl.ReportError(cfg.Breaker.Distributed, "breaker.distributed", "Distributed", "needs_redis", "")
		}
	}, Config{})

	return v
}

// Validate checks cfg and returns a *ValidationError naming each bad key.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Key: keyOf(fe), Message: messageOf(fe)})
	}
	return out
}

// keyOf turns "Config.dispatcher.max_retries" into "dispatcher.max_retries".
func keyOf(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func messageOf(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gt", "gte", "lt":
		return fmt.Sprintf("must be %s %s", comparison[fe.Tag()], fe.Param())
	case "gtefield":
		return "must not be less than " + fe.Param()
	case "hostname_port":
		return "must be host:port"
	case "hostname_rfc1123":
		return "must be a domain name"
	case "trust_level":
		return "must be a trust level name"
	case "needs_redis":
		return "requires redis.addr"
	default:
		return "failed " + fe.Tag()
	}
}

var comparison = map[string]string{"gt": ">", "gte": ">=", "lt": "<"}
