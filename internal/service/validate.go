package service

import (
	"errors"
	"reflect"
	"strings"

	"pos-gateway/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs struct validation and converts the first violation into a 400
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return BadRequest("invalid request: %v", err)
	}
	return BadRequest("%s", violationMessage(fieldErrs[0]))
}

func violationMessage(fe validator.FieldError) string {
	field := fieldPath(fe.Namespace())

	switch fe.Tag() {
	case "required":
		return "missing required parameter: " + field
	case "min":
		if fe.Kind() == reflect.Slice {
			return "missing required parameter: " + field
		}
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "oneof":
		return field + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return field + " must be greater than or equal to " + fe.Param()
	default:
		return field + " is invalid"
	}
}

// fieldPath drops the struct name from a validator namespace
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// authorizeRestaurant rejects a request naming a restaurant other than the one
// the integration belongs to
func authorizeRestaurant(cfg models.IntegrationConfig, restaurantID string) error {
	if restaurantID != cfg.RestaurantID {
		return Unauthorized("integration is not authorized for restaurant " + restaurantID)
	}
	return nil
}
