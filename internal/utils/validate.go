package utils

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"kyri56xcaesar/pms-kanban/internal/store"
)

var (
	projectKeyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_-]{1,19}$`)
	registerOnce sync.Once
)

// ValidProjectKey reports whether key, once upper-cased, is a legal
// project key.
func ValidProjectKey(key string) bool {
	return projectKeyRe.MatchString(store.NormalizeKey(key))
}

// RegisterValidators installs the custom tags on gin's validator and makes
// error fields report their json (or form) names.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(fieldName)
		_ = v.RegisterValidation("projectkey", func(fl validator.FieldLevel) bool {
			return ValidProjectKey(fl.Field().String())
		})
		_ = v.RegisterValidation("taskstatus", func(fl validator.FieldLevel) bool {
			return store.Status(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("taskpriority", func(fl validator.FieldLevel) bool {
			return store.Priority(fl.Field().String()).Valid()
		})
	})
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return ToSnakeCase(name)
		}
	}
	return ToSnakeCase(f.Name)
}

// ValidationDetails renders one readable line per failed field.
func ValidationDetails(errs validator.ValidationErrors) []string {
	out := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		param := fe.Param()

		switch fe.Tag() {
		case "required":
			out = append(out, field+" is required")
		case "email":
			out = append(out, field+" must be a valid email")
		case "min", "gte":
			if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
				out = append(out, field+" must be at least "+param+" characters")
			} else {
				out = append(out, field+" must be at least "+param)
			}
		case "max", "lte":
			if fe.Kind() == reflect.String || fe.Kind() == reflect.Slice {
				out = append(out, field+" must be at most "+param+" characters")
			} else {
				out = append(out, field+" must be at most "+param)
			}
		case "oneof":
			out = append(out, field+" must be one of "+strings.ReplaceAll(param, " ", ", "))
		case "projectkey":
			out = append(out, field+" must be 2-20 characters of A-Z, 0-9, _ or -, starting with a letter")
		case "taskstatus":
			out = append(out, field+" must be one of todo, in_progress, done")
		case "taskpriority":
			out = append(out, field+" must be one of low, medium, high")
		default:
			out = append(out, field+" is invalid")
		}
	}
	return out
}
