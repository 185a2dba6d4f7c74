package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"webinarfeedback/internal/server/database"

	"github.com/go-playground/validator/v10"
)

const (
	maxNameLength  = 255
	maxPhoneLength = 64
)

// FormData is the attendee-submitted feedback form. Sector, position and
// phone are free text and only trimmed and truncated.
type FormData struct {
	FullName            string `json:"full_name" validate:"required,min=2,max=255,personname"`
	CompanyName         string `json:"company_name" validate:"required,min=2,max=255"`
	Sector              string `json:"sector"`
	Position            string `json:"position"`
	Email               string `json:"email" validate:"required,max=320,email"`
	PhoneNumber         string `json:"phone_number"`
	SatisfactionOverall string `json:"satisfaction_overall" validate:"omitempty,oneof='Very Satisfied' Satisfied Neutral Dissatisfied 'Very Dissatisfied'"`
	MaterialUsefulness  string `json:"material_usefulness" validate:"omitempty,oneof='Very Satisfied' Satisfied Neutral Dissatisfied 'Very Dissatisfied'"`
	RecommendColleagues string `json:"recommend_colleagues" validate:"omitempty,oneof=Yes No"`
	Comments            string `json:"comments" validate:"max=5000"`
	OneOnOneSession     *bool  `json:"one_on_one_session"`
	PrivacyConsent      *bool  `json:"privacy_consent"`
	MarketingConsent    *bool  `json:"marketing_consent"`
}

var formValidator = newFormValidator()

// newFormValidator reports fields by their JSON name and adds the
// personname rule: letters, spaces and . - ' only.
func newFormValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !unicode.IsLetter(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".-'", r) {
				return false
			}
		}
		return true
	}); err != nil {
		panic(err)
	}
	return v
}

// Normalize trims and validates the form and converts it to a record
// stamped with createdAt.
func (f FormData) Normalize(createdAt time.Time) (*database.Submission, error) {
	f.FullName = strings.TrimSpace(f.FullName)
	f.CompanyName = strings.TrimSpace(f.CompanyName)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.SatisfactionOverall = strings.TrimSpace(f.SatisfactionOverall)
	f.MaterialUsefulness = strings.TrimSpace(f.MaterialUsefulness)
	f.RecommendColleagues = strings.TrimSpace(f.RecommendColleagues)
	f.Comments = strings.TrimSpace(f.Comments)

	if err := formValidator.Struct(f); err != nil {
		return nil, toValidationError(err)
	}

	return &database.Submission{
		FullName:            f.FullName,
		CompanyName:         f.CompanyName,
		Sector:              optional(f.Sector, maxNameLength),
		Position:            optional(f.Position, maxNameLength),
		Email:               f.Email,
		PhoneNumber:         optional(f.PhoneNumber, maxPhoneLength),
		SatisfactionOverall: f.SatisfactionOverall,
		MaterialUsefulness:  f.MaterialUsefulness,
		RecommendColleagues: f.RecommendColleagues,
		Comments:            f.Comments,
		OneOnOneSession:     f.OneOnOneSession,
		PrivacyConsent:      f.PrivacyConsent,
		MarketingConsent:    f.MarketingConsent,
		CreatedAt:           createdAt,
	}, nil
}

var fieldLabels = map[string]string{
	"full_name":            "Full name",
	"company_name":         "Company name",
	"email":                "Email",
	"satisfaction_overall": "Overall satisfaction",
	"material_usefulness":  "Material usefulness",
	"recommend_colleagues": "Recommendation",
	"comments":             "Comment",
}

// toValidationError reports the first failing field.
func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate form: %w", err)
	}

	fe := fieldErrs[0]
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}

	var cause string
	switch fe.Tag() {
	case "required":
		cause = label + " is required"
	case "min":
		cause = label + " is too short"
	case "max":
		cause = label + " is too long"
	case "email":
		cause = "Invalid email address"
	case "personname":
		cause = label + " contains invalid characters"
	case "oneof":
		cause = label + " must be one of: " + fe.Param()
	default:
		cause = label + " is invalid"
	}
	return &ValidationError{Field: fe.Field(), Cause: cause}
}

// optional trims s, truncates it to limit runes and returns nil when nothing is left.
func optional(s string, limit int) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit])
	}
	return &s
}
