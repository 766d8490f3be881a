package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/vasiliy-maslov/ecommerce-orders/internal/order"
)

// Error lists every failed constraint of a payload. It matches
// order.ErrValidation with errors.Is.
type Error struct {
	Details []string
}

func (e *Error) Error() string {
	return strings.Join(e.Details, "; ")
}

func (e *Error) Is(target error) bool {
	return target == order.ErrValidation
}

type Validator struct {
	v *validatorv10.Validate
}

// New returns a validator that reports fields by their JSON names and knows
// the order_status tag.
func New() *Validator {
	v := validatorv10.New(validatorv10.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("order_status", func(fl validatorv10.FieldLevel) bool {
		return order.Status(fl.Field().String()).IsValid()
	})

	return &Validator{v: v}
}

func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validatorv10.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation: %w", err)
	}
	return &Error{Details: formatValidationErrors(validationErrors)}
}

// Bind decodes data into dst, rejecting unknown fields, and validates it. A
// null or empty payload leaves dst zero before validation.
func (v *Validator) Bind(data []byte, dst any) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(dst); err != nil {
			return &Error{Details: []string{fmt.Sprintf("invalid payload: %v", err)}}
		}
	}
	return v.Struct(dst)
}

func formatValidationErrors(errs validatorv10.ValidationErrors) []string {
	details := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := strings.TrimPrefix(fe.Namespace(), namespaceRoot(fe.Namespace()))
		switch fe.Tag() {
		case "required":
			details = append(details, fmt.Sprintf("%s is required", field))
		case "min":
			details = append(details, fmt.Sprintf("%s must contain at least %s element(s)", field, fe.Param()))
		case "gt", "gte":
			details = append(details, fmt.Sprintf("%s must be %s %s", field, comparison(fe.Tag()), fe.Param()))
		case "uuid":
			details = append(details, fmt.Sprintf("%s must be a UUID", field))
		case "url":
			details = append(details, fmt.Sprintf("%s must be a URL", field))
		case "order_status":
			details = append(details, fmt.Sprintf("%s must be one of %s", field, statusList()))
		default:
			details = append(details, fmt.Sprintf("%s failed on the '%s' tag", field, fe.Tag()))
		}
	}
	return details
}

// namespaceRoot returns the "StructName." prefix of a validator namespace.
func namespaceRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

func comparison(tag string) string {
	if tag == "gt" {
		return "greater than"
	}
	return "at least"
}

func statusList() string {
	names := make([]string, 0, len(order.Statuses))
	for _, s := range order.Statuses {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}
