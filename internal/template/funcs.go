package template

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// fromJSON decodes s into generic values; invalid input yields nil
func fromJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// safeGet walks a dot-separated path through structs (field names), maps
// with string keys and slices (numeric segments). Any miss returns nil.
// It exists for keys the template dot syntax cannot express, e.g. "a-b".
//
//	{{ safeGet "Args.user-id" . }}
func safeGet(path string, data any) any {
	val := indirect(reflect.ValueOf(data))
	for _, seg := range strings.Split(path, ".") {
		if !val.IsValid() {
			return nil
		}
		switch val.Kind() {
		case reflect.Struct:
			val = val.FieldByName(seg)
		case reflect.Map:
			if val.Type().Key().Kind() != reflect.String {
				return nil
			}
			val = val.MapIndex(reflect.ValueOf(seg).Convert(val.Type().Key()))
		case reflect.Slice, reflect.Array:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= val.Len() {
				return nil
			}
			val = val.Index(idx)
		default:
			return nil
		}
		val = indirect(val)
	}
	if !val.IsValid() {
		return nil
	}
	return val.Interface()
}

func safeGetOr(path string, data any, def any) any {
	if v := safeGet(path, data); v != nil {
		return v
	}
	return def
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
