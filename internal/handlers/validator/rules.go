package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

func NewUploadValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("owner_id", ownerIDValidator),
		},
		{
			Rule: registerFn("upload_filename", filenameValidator),
		},
		{
			Rule: registerFn("content_type", contentTypeValidator),
		},
	}
}
