package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// IgnoredParams are parameter names the generated client runtime injects or
// uses for request bodies and headers. They never contribute to a cache key.
var IgnoredParams = []string{"result", "response", "data", "headers"}

// ModelDumper is implemented by generated schema types that can describe
// themselves as a plain map. The dump is used as the cache key material.
type ModelDumper interface {
	ModelDump() map[string]any
}

// Param is a declared parameter of an operation.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
}

// Required declares a parameter without a default.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter with a default value.
func Optional(name string, def any) Param {
	return Param{Name: name, Default: def, HasDefault: true}
}

// Signature is the declared name and ordered parameter list of an operation.
type Signature struct {
	Name   string
	Params []Param
}

// NewSignature returns a signature for the named operation.
func NewSignature(name string, params ...Param) Signature {
	return Signature{Name: name, Params: params}
}

func (s Signature) has(name string) bool {
	for _, p := range s.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Bind maps positional and keyword arguments onto the declared parameters.
// Binding is partial: parameters the caller did not supply are left out
// unless they declare a default, which is then applied.
func (s Signature) Bind(args []any, kwargs map[string]any) (map[string]any, error) {
	if len(args) > len(s.Params) {
		return nil, fmt.Errorf("%s() takes %d positional arguments but %d were given", s.Name, len(s.Params), len(args))
	}
	bound := make(map[string]any, len(s.Params))
	for i, arg := range args {
		bound[s.Params[i].Name] = arg
	}
	for name, val := range kwargs {
		if !s.has(name) {
			return nil, fmt.Errorf("%s() got an unexpected keyword argument %q", s.Name, name)
		}
		if _, dup := bound[name]; dup {
			return nil, fmt.Errorf("%s() got multiple values for argument %q", s.Name, name)
		}
		bound[name] = val
	}
	for _, p := range s.Params {
		if _, ok := bound[p.Name]; !ok && p.HasDefault {
			bound[p.Name] = p.Default
		}
	}
	return bound, nil
}

// keyParams returns the named arguments that make up a call's cache
// identity. When binding fails the keyword arguments are used as-is.
func keyParams(sig Signature, args []any, kwargs map[string]any) map[string]any {
	bound, err := sig.Bind(args, kwargs)
	if err != nil {
		bound = make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			bound[k] = v
		}
	}
	for _, name := range IgnoredParams {
		delete(bound, name)
	}
	return bound
}

// GenerateCacheKey derives the key for a call. The key is the path template
// (or the operation name when no template is known) followed by every
// retained parameter as name=value, sorted by name and joined by ':'.
//
//	GenerateCacheKey(sig, []any{25}, nil, "/pokemon/{id}") // "/pokemon/{id}:id=25"
func GenerateCacheKey(sig Signature, args []any, kwargs map[string]any, pathTemplate string) string {
	base := pathTemplate
	if base == "" {
		base = sig.Name
	}
	return formatKey(base, keyParams(sig, args, kwargs))
}

func formatKey(base string, params map[string]any) string {
	if len(params) == 0 {
		return base
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	var sb strings.Builder
	sb.WriteString(base)
	for _, name := range names {
		sb.WriteByte(':')
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(SerializeValue(params[name]))
	}
	return sb.String()
}

// SerializeValue renders a single argument for use inside a cache key.
// Scalars keep their plain string form so keys stay readable; pointers are
// followed to their value; maps, slices and model dumps become compact JSON with sorted keys so that key order in
// the input never changes the result.
func SerializeValue(v any) string {
	if isNil(v) {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return val
	case ModelDumper:
		if dumped, ok := modelDump(val); ok {
			return canonicalJSON(dumped, v)
		}
		return fmt.Sprintf("%#v", v)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		// keyed by the value pointed to, never the address
		return SerializeValue(rv.Elem().Interface())
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Map, reflect.Slice, reflect.Array:
		return canonicalJSON(v, v)
	}
	return fmt.Sprintf("%#v", v)
}

func modelDump(m ModelDumper) (dumped map[string]any, ok bool) {
	defer func() {
		if recover() != nil {
			dumped, ok = nil, false
		}
	}()
	return m.ModelDump(), true
}

// canonicalJSON encodes v compactly. encoding/json already emits map keys in
// sorted order. On failure the Go-syntax representation of orig is used.
func canonicalJSON(v any, orig any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%#v", orig)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// isNil reports whether v is nil or a typed nil pointer, map, slice,
// interface, channel or function.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
