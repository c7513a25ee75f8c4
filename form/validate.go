package form

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ispkit/stepflow/model"
)

// ValidationErrors carries one human-readable message per failing field,
// keyed by field name, so callers can render errors next to the matching
// control.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f]))
	}
	return strings.Join(parts, "; ")
}

type fieldValidator func(name string, prop model.Property, value any) string

// The whole schema subset hangs off this one table: one validator builder
// per property type. widgetFor in widget.go is the rendering half of the
// same mapping.
var validators = map[string]fieldValidator{
	"string":  validateString,
	"number":  validateNumber,
	"integer": validateNumber,
	"boolean": validateBoolean,
	"array":   validateArray,
}

// Validate checks the given values against the schema, restricted to the
// given field names. A required field that is empty fails; an optional empty
// field is skipped entirely. Returns nil when everything passes.
func Validate(schema model.Schema, fields []string, values map[string]any) ValidationErrors {
	errs := make(ValidationErrors)
	for _, name := range fields {
		prop, ok := schema.Properties[name]
		if !ok {
			continue
		}
		value, present := values[name]
		if !present || isEmpty(value) {
			if schema.IsRequired(name) {
				errs[name] = fmt.Sprintf("%s is required", name)
			}
			continue
		}
		validate, ok := validators[prop.Type]
		if !ok {
			continue
		}
		if msg := validate(name, prop, value); msg != "" {
			errs[name] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Submit validates the values against the rendered fields of the config and
// returns the data to emit: exactly the rendered fields that carry a value,
// nothing else. Fields a section omits never appear in the output, whatever
// the caller sent.
func Submit(cfg *model.FormConfig, values map[string]any) (map[string]any, error) {
	fields := RenderedFields(cfg)
	if errs := Validate(cfg.Schema, fields, values); errs != nil {
		return nil, errs
	}
	out := make(map[string]any)
	for _, name := range fields {
		if v, ok := values[name]; ok && !isEmpty(v) {
			out[name] = v
		}
	}
	return out, nil
}

// Skip is the output of a skipped step; it bypasses validation entirely.
func Skip() map[string]any {
	return map[string]any{"skipped": true}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	}
	return false
}

func validateString(name string, prop model.Property, value any) string {
	s, ok := value.(string)
	if !ok {
		return fmt.Sprintf("%s must be a string", name)
	}
	if len(prop.Enum) > 0 {
		for _, e := range prop.Enum {
			if s == e {
				return ""
			}
		}
		return fmt.Sprintf("%s must be one of: %s", name, strings.Join(prop.Enum, ", "))
	}
	if prop.MinLength != nil && len(s) < *prop.MinLength {
		return fmt.Sprintf("%s must be at least %d characters", name, *prop.MinLength)
	}
	if prop.MaxLength != nil && len(s) > *prop.MaxLength {
		return fmt.Sprintf("%s must be at most %d characters", name, *prop.MaxLength)
	}
	if prop.Pattern != "" {
		matched, err := regexp.MatchString(prop.Pattern, s)
		if err == nil && !matched {
			return fmt.Sprintf("%s does not match the expected pattern", name)
		}
	}
	if msg := validateFormat(name, prop.Format, s); msg != "" {
		return msg
	}
	return ""
}

func validateFormat(name, format, s string) string {
	switch format {
	case "email":
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Sprintf("%s must be a valid email address", name)
		}
	case "uri":
		u, err := url.ParseRequestURI(s)
		if err != nil || u.Scheme == "" {
			return fmt.Sprintf("%s must be a valid url", name)
		}
	case "date":
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Sprintf("%s must be a valid date (yyyy-mm-dd)", name)
		}
	case "time":
		if _, err := time.Parse("15:04", s); err != nil {
			if _, err := time.Parse("15:04:05", s); err != nil {
				return fmt.Sprintf("%s must be a valid time (hh:mm)", name)
			}
		}
	case "datetime-local":
		if _, err := time.Parse("2006-01-02T15:04", s); err != nil {
			if _, err := time.Parse("2006-01-02T15:04:05", s); err != nil {
				return fmt.Sprintf("%s must be a valid date and time", name)
			}
		}
	}
	return ""
}

func validateNumber(name string, prop model.Property, value any) string {
	n, ok := toFloat(value)
	if !ok {
		return fmt.Sprintf("%s must be a number", name)
	}
	if prop.Type == "integer" && n != math.Trunc(n) {
		return fmt.Sprintf("%s must be a whole number", name)
	}
	if prop.Minimum != nil && n < *prop.Minimum {
		return fmt.Sprintf("%s must be at least %v", name, *prop.Minimum)
	}
	if prop.Maximum != nil && n > *prop.Maximum {
		return fmt.Sprintf("%s must be at most %v", name, *prop.Maximum)
	}
	return ""
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func validateBoolean(name string, prop model.Property, value any) string {
	if _, ok := value.(bool); !ok {
		return fmt.Sprintf("%s must be true or false", name)
	}
	return ""
}

func validateArray(name string, prop model.Property, value any) string {
	items, ok := value.([]any)
	if !ok {
		return fmt.Sprintf("%s must be a list", name)
	}
	if prop.MinItems != nil && len(items) < *prop.MinItems {
		return fmt.Sprintf("%s must have at least %d selections", name, *prop.MinItems)
	}
	if prop.MaxItems != nil && len(items) > *prop.MaxItems {
		return fmt.Sprintf("%s must have at most %d selections", name, *prop.MaxItems)
	}
	if prop.Items == nil || len(prop.Items.Enum) == 0 {
		return ""
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return fmt.Sprintf("%s selections must be strings", name)
		}
		found := false
		for _, e := range prop.Items.Enum {
			if s == e {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("%s contains an invalid selection: %s", name, s)
		}
	}
	return ""
}
