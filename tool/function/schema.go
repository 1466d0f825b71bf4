//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function

import (
	"reflect"
	"strings"

	"trpc.group/trpc-go/trpc-seqagent-go/tool"
)

// generateSchema derives a JSON schema from a Go type. Struct fields follow
// their json tags; a `description` tag becomes the field description.
// Non-pointer fields without omitempty are required.
func generateSchema(t reflect.Type) *tool.Schema {
	return schemaFor(t, map[reflect.Type]bool{})
}

func schemaFor(t reflect.Type, seen map[reflect.Type]bool) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: schemaFor(t.Elem(), seen)}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: true}
	case reflect.Struct:
		if seen[t] {
			// Recursive types collapse to an open object.
			return &tool.Schema{Type: "object"}
		}
		seen[t] = true
		defer delete(seen, t)
		s := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name, omitEmpty, skip := jsonName(f)
			if skip {
				continue
			}
			fs := schemaFor(f.Type, seen)
			if desc := f.Tag.Get("description"); desc != "" {
				fs.Description = desc
			}
			s.Properties[name] = fs
			if f.Type.Kind() != reflect.Ptr && !omitEmpty {
				s.Required = append(s.Required, name)
			}
		}
		return s
	default:
		return &tool.Schema{Type: "object"}
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
