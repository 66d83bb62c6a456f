package circloth

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateOne checks a single decoded record.
func validateOne[T any](kind string, v *T) error {
	if v == nil {
		return fmt.Errorf("invalid %s: missing", kind)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s: %w", kind, err)
	}
	return nil
}

// keepValid drops records that fail validation and logs each drop.
// The result is never nil so an empty list stays distinguishable from a miss.
func keepValid[T any](log Logger, kind string, in []T) []T {
	out := make([]T, 0, len(in))
	for i := range in {
		if err := validate.Struct(&in[i]); err != nil {
			log.Warn("dropping invalid record", "kind", kind, "index", i, "error", err)
			continue
		}
		out = append(out, in[i])
	}
	return out
}
