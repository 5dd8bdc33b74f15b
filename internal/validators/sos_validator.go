package validators

import (
	"errors"
	"fmt"
	"strings"

	"rideguard/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validation functions
	validate.RegisterValidation("emergency_type", validateEmergencyType)
	validate.RegisterValidation("service_type", validateServiceType)
	validate.RegisterValidation("trigger_source", validateTriggerSource)
}

// Common validation errors
var (
	ErrInvalidEmergencyType = errors.New("invalid emergency type")
	ErrInvalidServiceType   = errors.New("invalid service type")
	ErrInvalidTriggerSource = errors.New("invalid trigger source")
	ErrInvalidCoordinates   = errors.New("invalid GPS coordinates")
)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates a struct and returns detailed errors
func ValidateStruct(s interface{}) ValidationErrors {
	var validationErrors ValidationErrors

	err := validate.Struct(s)
	if err != nil {
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, ValidationError{
				Field:   err.Field(),
				Tag:     err.Tag(),
				Value:   fmt.Sprintf("%v", err.Value()),
				Message: getErrorMessage(err),
			})
		}
	}

	return validationErrors
}

// ValidateTriggerRequest validates an SOS trigger payload beyond struct tags.
func ValidateTriggerRequest(request *models.TriggerRequest) ValidationErrors {
	errs := ValidateStruct(request)

	if !models.IsValidEmergencyType(request.EmergencyType) {
		errs = append(errs, ValidationError{
			Field:   "emergency_type",
			Tag:     "emergency_type",
			Value:   string(request.EmergencyType),
			Message: ErrInvalidEmergencyType.Error(),
		})
	}
	if request.Latitude == 0 && request.Longitude == 0 {
		errs = append(errs, ValidationError{
			Field:   "latitude",
			Tag:     "coordinates",
			Value:   "0,0",
			Message: ErrInvalidCoordinates.Error(),
		})
	}
	return errs
}

// ValidateServiceCallback validates an external service webhook payload.
func ValidateServiceCallback(request *models.ServiceCallbackRequest) ValidationErrors {
	errs := ValidateStruct(request)

	switch request.Service {
	case models.ServiceTypeMedical, models.ServiceTypePolice, models.ServiceTypeFire, models.ServiceTypeNationalEmergency:
	default:
		errs = append(errs, ValidationError{
			Field:   "service",
			Tag:     "service_type",
			Value:   string(request.Service),
			Message: ErrInvalidServiceType.Error(),
		})
	}
	return errs
}

func validateEmergencyType(fl validator.FieldLevel) bool {
	return models.IsValidEmergencyType(models.EmergencyType(fl.Field().String()))
}

func validateServiceType(fl validator.FieldLevel) bool {
	switch models.ServiceType(fl.Field().String()) {
	case models.ServiceTypeMedical, models.ServiceTypePolice, models.ServiceTypeFire, models.ServiceTypeNationalEmergency:
		return true
	}
	return false
}

func validateTriggerSource(fl validator.FieldLevel) bool {
	switch models.TriggerSource(fl.Field().String()) {
	case models.TriggerSourceApp, models.TriggerSourcePanicButton, models.TriggerSourceOfflineSync, "":
		return true
	}
	return false
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "emergency_type":
		return ErrInvalidEmergencyType.Error()
	case "service_type":
		return ErrInvalidServiceType.Error()
	case "trigger_source":
		return ErrInvalidTriggerSource.Error()
	default:
		return fmt.Sprintf("failed validation: %s", err.Tag())
	}
}
