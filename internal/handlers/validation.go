package handlers

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/huangang/codereview-ai/backend/internal/models"
)

var (
	filenameRegex      = regexp.MustCompile(`^[\w\-. ]+$`)
	registerValidators sync.Once
)

// fieldMessages holds the user-facing text per "field.rule".
var fieldMessages = map[string]string{
	"user_name.required":          "Please provide your name.",
	"user_name.max":               "The user name may not be greater than 100 characters.",
	"filename.required":           "Please provide a filename for your code.",
	"filename.max":                "The filename may not be greater than 255 characters.",
	"filename.filename":           "Filename contains invalid characters.",
	"language.required":           "Please select a programming language.",
	"language.supported_language": "The selected language is not supported.",
	"code.required":               "Please provide the code to review.",
	"code.min":                    "Code must be at least 10 characters.",
	"code.max":                    "Code is too large. Maximum 50,000 characters allowed.",
	"page.min":                    "The page must be at least 1.",
	"page_size.min":               "The page size must be at least 1.",
	"page_size.max":               "The page size may not be greater than 100.",
}

// RegisterValidators installs the custom rules on gin's validator engine.
// Safe to call more than once.
func RegisterValidators() {
	registerValidators.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(fieldName)
		_ = v.RegisterValidation("filename", func(fl validator.FieldLevel) bool {
			return filenameRegex.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("supported_language", func(fl validator.FieldLevel) bool {
			return models.IsSupportedLanguage(fl.Field().String())
		})
	})
}

// fieldName reports the json (or form) name of a struct field.
func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// validationErrors converts a binding error into per-field messages. The
// second result is false when err is not a validation failure.
func validationErrors(err error) (map[string]string, bool) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, false
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := fields[field]; seen {
			continue
		}
		if msg, ok := fieldMessages[field+"."+fe.Tag()]; ok {
			fields[field] = msg
			continue
		}
		fields[field] = "The " + strings.ReplaceAll(field, "_", " ") + " field is invalid."
	}
	return fields, true
}
