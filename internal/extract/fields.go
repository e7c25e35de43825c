package extract

import (
	"regexp"
	"strings"
)

// FieldType is the inferred data type of an extracted field.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypePhone    FieldType = "phone"
	FieldTypeDate     FieldType = "date"
	FieldTypeNumber   FieldType = "number"
	FieldTypeCurrency FieldType = "currency"
	FieldTypeAddress  FieldType = "address"
	FieldTypeName     FieldType = "name"
)

// Field is one entry of the flat key/value map produced from labeled
// lines of the document text.
type Field struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Type       FieldType `json:"type"`
	Confidence float64   `json:"confidence"`
}

var labeledLinePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z0-9 _./-]{0,40}?)\s*:\s*(\S.*?)\s*$`)

// Curated key vocabularies for type inference. Keys are normalized to
// lower snake case before lookup.
var fieldKeyVocabulary = map[FieldType][]string{
	FieldTypeName: {
		"first_name", "given_name", "last_name", "family_name",
		"surname", "full_name", "name", "applicant_name",
	},
	FieldTypeEmail: {
		"email", "email_address", "e_mail", "electronic_mail",
	},
	FieldTypePhone: {
		"phone", "phone_number", "telephone", "mobile", "cell_phone",
	},
	FieldTypeAddress: {
		"address", "street_address", "mailing_address", "home_address",
		"city", "state", "zip_code", "postal_code",
	},
	FieldTypeDate: {
		"date", "birth_date", "date_of_birth", "dob", "created_date",
		"issue_date", "expiry_date",
	},
	FieldTypeCurrency: {
		"salary", "income", "amount", "total", "price", "balance",
	},
}

// fieldTypeOrder fixes the vocabulary lookup order so that inference is
// deterministic when a key would match several vocabularies.
var fieldTypeOrder = []FieldType{
	FieldTypeEmail,
	FieldTypePhone,
	FieldTypeDate,
	FieldTypeCurrency,
	FieldTypeAddress,
	FieldTypeName,
}

var (
	emailValuePattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneValuePattern = regexp.MustCompile(`^\+?1?[-.\s]?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}$`)
	dateValuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}$`),
		regexp.MustCompile(`^(?i)\d{1,2}\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{4}$`),
	}
	numberValuePattern   = regexp.MustCompile(`^-?[\d,]+\.?\d*$`)
	currencyValuePattern = regexp.MustCompile(`^[$€£]?[\d,]+\.?\d{0,2}$`)
)

// NormalizeKey lowers a raw field label into snake case so it can be
// matched against the key vocabularies.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(strings.ToLower(key))
	key = strings.NewReplacer(" ", "_", "-", "_", ".", "_", "/", "_").Replace(key)
	for strings.Contains(key, "__") {
		key = strings.ReplaceAll(key, "__", "_")
	}
	return strings.Trim(key, "_")
}

// InferFieldType resolves the type of a key/value pair. The key
// vocabulary is consulted first; when the key is unrecognized the type
// falls back to the shape of the value.
func InferFieldType(key, value string) FieldType {
	for _, fieldType := range fieldTypeOrder {
		for _, known := range fieldKeyVocabulary[fieldType] {
			if key == known || strings.Contains(key, known) {
				return fieldType
			}
		}
	}
	return inferFromValue(value)
}

func inferFromValue(value string) FieldType {
	switch {
	case emailValuePattern.MatchString(value):
		return FieldTypeEmail
	case phoneValuePattern.MatchString(value):
		return FieldTypePhone
	case isDateValue(value):
		return FieldTypeDate
	case currencyValuePattern.MatchString(value) && strings.ContainsAny(value, "$€£"):
		return FieldTypeCurrency
	case numberValuePattern.MatchString(value):
		return FieldTypeNumber
	default:
		return FieldTypeText
	}
}

// ValidateValue reports whether a value is well formed for its type.
// Text fields are always considered valid.
func ValidateValue(fieldType FieldType, value string) bool {
	switch fieldType {
	case FieldTypeEmail:
		return emailValuePattern.MatchString(value)
	case FieldTypePhone:
		digits := regexp.MustCompile(`\D`).ReplaceAllString(value, "")
		return len(digits) >= 10 && len(digits) <= 15
	case FieldTypeDate:
		return isDateValue(value)
	case FieldTypeNumber:
		return numberValuePattern.MatchString(strings.ReplaceAll(value, " ", ""))
	case FieldTypeCurrency:
		return currencyValuePattern.MatchString(strings.ReplaceAll(value, " ", ""))
	default:
		return true
	}
}

func isDateValue(value string) bool {
	for _, pattern := range dateValuePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}

// parseFields scans the text for "label: value" lines and turns them
// into typed fields. Later occurrences of the same key keep the higher
// confidence value, so repeated headers do not shadow validated data.
func parseFields(text string) []Field {
	byKey := make(map[string]Field)
	var order []string
	for _, group := range labeledLinePattern.FindAllStringSubmatch(text, -1) {
		key := NormalizeKey(group[1])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(group[2])
		fieldType := InferFieldType(key, value)
		confidence := fieldConfidence(key, fieldType, value)
		field := Field{Key: key, Value: value, Type: fieldType, Confidence: confidence}
		existing, ok := byKey[key]
		if !ok {
			order = append(order, key)
			byKey[key] = field
			continue
		}
		if field.Confidence > existing.Confidence {
			byKey[key] = field
		}
	}
	fields := make([]Field, 0, len(order))
	for _, key := range order {
		fields = append(fields, byKey[key])
	}
	return fields
}

func fieldConfidence(key string, fieldType FieldType, value string) float64 {
	confidence := 0.75
	if keyInVocabulary(key) {
		confidence += 0.1
	}
	if fieldType != FieldTypeText && ValidateValue(fieldType, value) {
		confidence += 0.14
	}
	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}

func keyInVocabulary(key string) bool {
	for _, fieldType := range fieldTypeOrder {
		for _, known := range fieldKeyVocabulary[fieldType] {
			if key == known || strings.Contains(key, known) {
				return true
			}
		}
	}
	return false
}
