package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/caseflow/pkg/schema"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates v's `validate` tags and converts failures into a single
// VALIDATION_ERROR whose details carry one entry per failing field.
func Struct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s: failed %q", fe.Namespace(), fieldRule(fe)))
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid %T: %s", v, strings.Join(fields, "; ")).
		WithCause(err).
		WithDetails(map[string]any{"violations": fields})
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fe.Tag() + "=" + fe.Param()
	}
	return fe.Tag()
}

// ValidateEventContext checks the minimum an event must carry to be
// dispatched.
func ValidateEventContext(ec *schema.EventContext) error {
	if ec == nil {
		return schema.NewError(schema.ErrCodeValidation, "event context is nil")
	}
	return Struct(ec)
}
