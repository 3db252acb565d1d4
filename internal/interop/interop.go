// Package interop reads members of managed objects reached through handles.
//
// It is the minimal value layer the callback round trip needs: look a
// member up by name and coerce it to a native int32.
package interop

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
)

var (
	// ErrNoMember indicates the object has no member with the requested name.
	ErrNoMember = errors.New("polyhandle: no such member")

	// ErrNotNumber indicates a value that cannot be read as an integer.
	ErrNotNumber = errors.New("polyhandle: value is not a number")

	// ErrOverflow indicates an integer that does not fit the requested width.
	ErrOverflow = errors.New("polyhandle: integer overflow")
)

// Members is implemented by objects that resolve their own members.
type Members interface {
	GetMember(name string) (any, bool)
}

// GetMember returns the member called name.
//
// Lookup order: the Members interface, map[string]any, then exported struct
// fields matched by `polyglot:"name"` tag or by field name. Pointers are
// followed.
func GetMember(obj any, name string) (any, error) {
	if m, ok := obj.(Members); ok {
		if v, ok := m.GetMember(name); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrNoMember, name)
	}
	if m, ok := obj.(map[string]any); ok {
		if v, ok := m[name]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrNoMember, name)
	}

	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: %q on nil object", ErrNoMember, name)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %q on %T", ErrNoMember, name, obj)
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("polyglot"), ",")
		if tag == name || (tag == "" && f.Name == name) {
			return rv.Field(i).Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q on %T", ErrNoMember, name, obj)
}

// AsInt32 converts an integer value to int32.
func AsInt32(v any) (int32, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d does not fit int32", ErrOverflow, n)
		}
		return int32(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%w: %d does not fit int32", ErrOverflow, n)
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, v)
	}
}

// MemberInt32 is GetMember followed by AsInt32.
func MemberInt32(obj any, name string) (int32, error) {
	v, err := GetMember(obj, name)
	if err != nil {
		return 0, err
	}
	n, err := AsInt32(v)
	if err != nil {
		return 0, fmt.Errorf("member %q: %w", name, err)
	}
	return n, nil
}
