package protocol

import (
	"fmt"
	"reflect"
	"strings"
)

// PromptField describes one key of the structured block as shown to the model.
type PromptField struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// FieldsFromStruct renders prompt fields from struct tags:
// json (name), prompt_type (type), prompt_desc (description) and
// prompt ("required", "optional", "-").
func FieldsFromStruct(v any) ([]PromptField, error) {
	if v == nil {
		return nil, fmt.Errorf("protocol: struct is nil")
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("protocol: expected struct, got %s", t.Kind())
	}
	fields := make([]PromptField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		mode := promptMode(f)
		if mode == "-" {
			continue
		}
		name := jsonName(f)
		if name == "" {
			continue
		}
		typ := strings.TrimSpace(f.Tag.Get("prompt_type"))
		if typ == "" {
			typ = typeString(f.Type)
		}
		fields = append(fields, PromptField{
			Name:        name,
			Type:        typ,
			Required:    mode != "optional",
			Description: strings.TrimSpace(f.Tag.Get("prompt_desc")),
		})
	}
	return fields, nil
}

func promptMode(f reflect.StructField) string {
	for _, part := range strings.Split(f.Tag.Get("prompt"), ",") {
		switch part = strings.TrimSpace(part); part {
		case "-", "omit":
			return "-"
		case "required", "optional":
			return part
		}
	}
	return "required"
}

func jsonName(f reflect.StructField) string {
	name := strings.Split(strings.TrimSpace(f.Tag.Get("json")), ",")[0]
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	default:
		return name
	}
}

func typeString(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "int"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "[]" + typeString(t.Elem())
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "any"
	}
}
