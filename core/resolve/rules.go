package resolve

import (
	"encoding/json"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/core/pkgschema"
)

// formatValidator evaluates the format rules through go-playground tags.
var formatValidator = validator.New()

var formatTags = map[string]string{
	"email":     "email",
	"uuid":      "uuid",
	"date-time": "datetime=2006-01-02T15:04:05Z07:00",
}

// writeProtected are the system columns a client may never set directly.
// archived_at stays writable: clients set it to soft-delete.
var writeProtected = map[string]bool{"created_at": true, "updated_at": true}

// ValidateBody checks an incoming body (keys already snake_case) against the
// entity's column set and validation rules. partial suppresses required
// checks for absent fields (update semantics). At most one error per field
// is reported; the first failing rule wins.
func (e *Entity) ValidateBody(body map[string]any, partial bool) error {
	verr := &apperr.ValidationError{}

	for key := range body {
		if e.Column(key) == nil {
			return apperr.NewBadRequest("unknown column %q", key)
		}
		if writeProtected[key] {
			return apperr.NewBadRequest("column %q is system-managed", key)
		}
	}

	if !partial {
		for name, rule := range e.Rules {
			if !rule.Required {
				continue
			}
			if v, present := body[name]; !present || v == nil {
				verr.Add(name, "is required")
			}
		}
	}

	for name, value := range body {
		if value == nil {
			continue
		}
		col := e.Column(name)
		if col.IsEnum() && !enumAllows(col.EnumValues, value) {
			verr.Add(name, "value is not one of the enum labels")
			continue
		}
		if rule, hasRule := e.Rules[name]; hasRule {
			checkRule(verr, name, value, rule)
		}
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func enumAllows(labels []string, value any) bool {
	s, ok := value.(string)
	if !ok {
		return false
	}
	for _, l := range labels {
		if l == s {
			return true
		}
	}
	return false
}

func checkRule(verr *apperr.ValidationError, name string, value any, rule pkgschema.ColumnRule) {
	if rule.Type != "" && !typeMatches(rule.Type, value) {
		verr.Add(name, "expected type %s", rule.Type)
		return
	}
	if s, isString := value.(string); isString {
		if tag, ok := formatTags[rule.Format]; ok {
			if err := formatValidator.Var(s, tag); err != nil {
				verr.Add(name, "must be a valid %s", rule.Format)
				return
			}
		}
		if rule.MinLength != nil && len(s) < *rule.MinLength {
			verr.Add(name, "must be at least %d characters", *rule.MinLength)
			return
		}
		if rule.MaxLength != nil && len(s) > *rule.MaxLength {
			verr.Add(name, "must be at most %d characters", *rule.MaxLength)
			return
		}
		if rule.Pattern != "" {
			// Patterns were compiled during resolution, so this cannot panic
			// on accepted config.
			if !regexp.MustCompile(rule.Pattern).MatchString(s) {
				verr.Add(name, "does not match the required pattern")
				return
			}
		}
		if len(rule.Allowed) > 0 && !contains(rule.Allowed, s) {
			verr.Add(name, "is not an allowed value")
			return
		}
	}
	if n, isNumber := asFloat(value); isNumber {
		if rule.Minimum != nil && n < *rule.Minimum {
			verr.Add(name, "must be >= %v", *rule.Minimum)
			return
		}
		if rule.Maximum != nil && n > *rule.Maximum {
			verr.Add(name, "must be <= %v", *rule.Maximum)
			return
		}
	}
}

func typeMatches(want string, value any) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asFloat(value)
		return ok
	case "integer":
		n, ok := asFloat(value)
		return ok && n == float64(int64(n))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	}
	return false
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
