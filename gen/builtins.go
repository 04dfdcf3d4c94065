package gen

import (
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/chazu/replay/startup"
)

// Builtin function refs emitted by the serializer. Every FuncRegistry is
// created with these pre-registered.
const (
	BuiltinParseURL          FuncRef = "builtin.parseURL"
	BuiltinParseDuration     FuncRef = "builtin.parseDuration"
	BuiltinOptionalOfNullable FuncRef = "builtin.optionalOfNullable"
	BuiltinEmptyOptional     FuncRef = "builtin.emptyOptional"
	BuiltinNewRuntimeValue   FuncRef = "builtin.newRuntimeValue"
	BuiltinEmptyRuntimeValue FuncRef = "builtin.emptyRuntimeValue"
	BuiltinIndirect          FuncRef = "builtin.indirect"
	BuiltinSliceOf           FuncRef = "builtin.sliceOf"
	BuiltinArrayOf           FuncRef = "builtin.arrayOf"
	BuiltinMapOf             FuncRef = "builtin.mapOf"
	BuiltinPointerTo         FuncRef = "builtin.pointerTo"
)

func registerBuiltins(r *FuncRegistry) {
	r.byName[string(BuiltinParseURL)] = reflect.ValueOf(func(s string) (*url.URL, error) {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("malformed URL %q: %w", s, err)
		}
		return u, nil
	})
	r.byName[string(BuiltinParseDuration)] = reflect.ValueOf(func(s string) (time.Duration, error) {
		return time.ParseDuration(s)
	})
	r.byName[string(BuiltinOptionalOfNullable)] = reflect.ValueOf(startup.OptionalOfNullable)
	r.byName[string(BuiltinEmptyOptional)] = reflect.ValueOf(startup.EmptyOptional)
	r.byName[string(BuiltinNewRuntimeValue)] = reflect.ValueOf(startup.NewRuntimeValue)
	r.byName[string(BuiltinEmptyRuntimeValue)] = reflect.ValueOf(startup.EmptyRuntimeValue)
	r.byName[string(BuiltinIndirect)] = reflect.ValueOf(func(v any) any {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			return rv.Elem().Interface()
		}
		return v
	})
	r.byName[string(BuiltinSliceOf)] = reflect.ValueOf(reflect.SliceOf)
	r.byName[string(BuiltinArrayOf)] = reflect.ValueOf(reflect.ArrayOf)
	r.byName[string(BuiltinMapOf)] = reflect.ValueOf(reflect.MapOf)
	r.byName[string(BuiltinPointerTo)] = reflect.ValueOf(reflect.PointerTo)
}
