package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validate walks a struct's exported fields and checks the `cfg` tag
// constraints: `required` (non-zero value), `min`/`max` (numeric bounds),
// and `enum` ('|'-separated allowed values for strings). Nested structs,
// pointers to structs, and slices of structs are walked recursively so that
// sub-scope and sub-scope-array fields validate the same way as top-level
// ones; the elements of a slice of scalars are not checked individually.
func Validate(v interface{}) error {
	return validateValue(reflect.ValueOf(v), "")
}

func validateValue(rv reflect.Value, path string) error {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fv := rv.Field(i)
		name := field.Name
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}

		tag := field.Tag.Get("cfg")
		if err := checkScalarConstraints(fv, fieldPath, tag); err != nil {
			return err
		}

		switch fv.Kind() {
		case reflect.Struct:
			if err := validateValue(fv, fieldPath); err != nil {
				return err
			}
		case reflect.Ptr:
			if err := validateValue(fv, fieldPath); err != nil {
				return err
			}
		case reflect.Slice, reflect.Array:
			for j := 0; j < fv.Len(); j++ {
				elem := fv.Index(j)
				if elem.Kind() == reflect.Struct || (elem.Kind() == reflect.Ptr && elem.Elem().Kind() == reflect.Struct) {
					if err := validateValue(elem, fmt.Sprintf("%s[%d]", fieldPath, j)); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func checkScalarConstraints(fv reflect.Value, path, tag string) error {
	if tag == "" {
		return nil
	}
	opts := parseTag(tag)

	if _, required := opts["required"]; required && isZero(fv) {
		return fmt.Errorf("config: %s is required", path)
	}

	if isZero(fv) {
		return nil // min/max/enum don't apply to an absent optional field
	}

	if minStr, ok := opts["min"]; ok {
		minV, err := strconv.ParseFloat(minStr, 64)
		if err != nil {
			return fmt.Errorf("config: %s: invalid min tag %q: %w", path, minStr, err)
		}
		if n, ok := numeric(fv); ok && n < minV {
			return fmt.Errorf("config: %s = %v is below minimum %v", path, n, minV)
		}
	}
	if maxStr, ok := opts["max"]; ok {
		maxV, err := strconv.ParseFloat(maxStr, 64)
		if err != nil {
			return fmt.Errorf("config: %s: invalid max tag %q: %w", path, maxStr, err)
		}
		if n, ok := numeric(fv); ok && n > maxV {
			return fmt.Errorf("config: %s = %v exceeds maximum %v", path, n, maxV)
		}
	}
	if enumStr, ok := opts["enum"]; ok && fv.Kind() == reflect.String {
		allowed := strings.Split(enumStr, "|")
		s := fv.String()
		found := false
		for _, a := range allowed {
			if a == s {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("config: %s = %q is not one of %v", path, s, allowed)
		}
	}
	return nil
}

// parseTag parses `required,min=1,max=100,enum=up|down` into a map.
func parseTag(tag string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			out[part[:eq]] = part[eq+1:]
		} else {
			out[part] = ""
		}
	}
	return out
}

func numeric(fv reflect.Value) (float64, bool) {
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(fv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(fv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return fv.Float(), true
	default:
		return 0, false
	}
}

func isZero(fv reflect.Value) bool {
	return fv.IsZero()
}
