// Package validation holds constructor guards for mandatory dependencies.
//
// The guards panic: a missing dependency is a wiring bug, not a runtime
// condition callers could recover from.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics with "<name> cannot be nil" if ptr is nil.
//
//	validation.AssertNotNil(client, "storage: redis client")
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("%s cannot be nil", name))
	}
}

// AssertImplemented panics with "<name> cannot be nil" if dep is a nil
// interface or an interface holding a nil pointer, map, slice or func.
func AssertImplemented(dep any, name string) {
	if isNil(dep) {
		panic(fmt.Sprintf("%s cannot be nil", name))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
