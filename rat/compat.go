package rat

import (
	"reflect"
)

// Unknown is the wildcard type. An adapter producing or accepting Unknown is
// compatible with anything.
var Unknown = reflect.TypeFor[any]()

// TypeOf returns the reflect.Type of T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Types is shorthand for building accept lists.
func Types(types ...reflect.Type) []reflect.Type {
	return types
}

// Compatible reports whether every produced type is assignable to at least
// one accepted type.
func Compatible(produced, accepted []reflect.Type) bool {
	if len(produced) == 0 || len(accepted) == 0 {
		return true
	}
	for _, p := range produced {
		if !assignableToAny(p, accepted) {
			return false
		}
	}
	return true
}

func assignableToAny(p reflect.Type, accepted []reflect.Type) bool {
	if p == nil || p == Unknown {
		return true
	}
	for _, a := range accepted {
		if a == nil || a == Unknown || p.AssignableTo(a) {
			return true
		}
	}
	return false
}

// TypeNames renders types for error messages.
func TypeNames(types []reflect.Type) string {
	if len(types) == 0 {
		return "[]"
	}
	s := "["
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		if t == nil {
			s += "<nil>"
		} else {
			s += t.String()
		}
	}
	return s + "]"
}
