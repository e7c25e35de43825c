package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ownerIDValidRegex  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)
	filenameValidRegex = regexp.MustCompile(`^[^/\x00]{1,255}$`)
)

func ownerIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	return ownerIDValidRegex.MatchString(val)
}

func filenameValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	if strings.Contains(val, "..") {
		return false
	}
	return filenameValidRegex.MatchString(val)
}

func contentTypeValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	if val == "" {
		return true
	}
	parts := strings.SplitN(val, "/", 2)
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
