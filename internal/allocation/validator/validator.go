package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"slotbook/pkg/logger"
	"slotbook/pkg/model"

	"github.com/go-playground/validator/v10"
)

var (
	identifierRegex = regexp.MustCompile(`^\S+$`)
	categoryRegex   = regexp.MustCompile(`^[\p{L}0-9]+(?:_[\p{L}0-9]+)*$`)
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type AllocationValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewAllocationValidator(log *logger.Logger) *AllocationValidator {
	v := validator.New()

	if err := v.RegisterValidation("identifier", validateIdentifier); err != nil {
		log.Fatal("Failed to register 'identifier' validator",
			"error", err,
		)
	}
	if err := v.RegisterValidation("category", validateCategory); err != nil {
		log.Fatal("Failed to register 'category' validator",
			"error", err,
		)
	}

	log.Debug("Allocation validator initialized successfully")

	return &AllocationValidator{
		validate: v,
		logger:   log,
	}
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func validateCategory(fl validator.FieldLevel) bool {
	return categoryRegex.MatchString(fl.Field().String())
}

func (v *AllocationValidator) ValidateRegisterUnit(req *model.RegisterUnitRequest) error {
	return v.validateStruct(req)
}

func (v *AllocationValidator) ValidateAllocate(req *model.AllocateRequest) error {
	return v.validateStruct(req)
}

func (v *AllocationValidator) ValidateRelease(req *model.ReleaseRequest) error {
	return v.validateStruct(req)
}

func (v *AllocationValidator) ValidatePricing(req *model.PricingRequest) error {
	if err := v.validateStruct(req); err != nil {
		return err
	}

	if req.Kind == "per_category" && len(req.Rates) == 0 && req.Fallback == 0 {
		return ValidationErrors{
			ValidationError{
				Field:   "Rates",
				Message: "per_category pricing needs at least one rate or a fallback",
			},
		}
	}
	return nil
}

func (v *AllocationValidator) validateStruct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func (v *AllocationValidator) translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "identifier":
			message = fmt.Sprintf("%s must not contain whitespace", err.Field())
		case "category":
			message = fmt.Sprintf("%s must be lower snake case (e.g. four_wheeler)", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}
