package facts

import (
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// pathCacheSize bounds the split keys kept, since keys may come from input
// documents rather than rule text.
const pathCacheSize = 4096

var (
	pathCache     = mustLRU[string, []string](pathCacheSize)
	accessorCache sync.Map // accessorKey -> accessor
)

func mustLRU[K comparable, V any](size int) *lru.Cache[K, V] {
	c, err := lru.New[K, V](size)
	if err != nil {
		panic(err)
	}
	return c
}

type accessorKey struct {
	typ   reflect.Type
	field string
}

// accessor reads one named property off a value of a fixed type. A nil
// accessor is cached for types that have no such property.
type accessor func(v reflect.Value) (reflect.Value, bool)

func splitPath(key string) []string {
	if cached, ok := pathCache.Get(key); ok {
		return cached
	}
	parts := strings.Split(key, ".")
	pathCache.Add(key, parts)
	return parts
}

// resolve walks path through nested maps, falling back to struct accessors
// once a segment resolves to something that is not a map[string]any.
func resolve(data map[string]any, path []string) any {
	current, ok := data[path[0]]
	if !ok || current == nil {
		return nil
	}
	for _, segment := range path[1:] {
		if m, ok := current.(map[string]any); ok {
			current = m[segment]
		} else {
			current = property(current, segment)
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// property reads segment off an arbitrary Go value: typed maps with string
// keys, structs and pointers to structs.
func property(obj any, segment string) any {
	v := reflect.ValueOf(obj)
	acc := lookupAccessor(v.Type(), segment)
	if acc == nil {
		return nil
	}
	out, ok := acc(v)
	if !ok || !out.IsValid() || !out.CanInterface() {
		return nil
	}
	if (out.Kind() == reflect.Pointer || out.Kind() == reflect.Interface || out.Kind() == reflect.Map) && out.IsNil() {
		return nil
	}
	return out.Interface()
}

func lookupAccessor(t reflect.Type, segment string) accessor {
	key := accessorKey{typ: t, field: segment}
	if cached, ok := accessorCache.Load(key); ok {
		return cached.(accessor)
	}
	acc := findAccessor(t, segment)
	accessorCache.Store(key, acc)
	return acc
}

func findAccessor(t reflect.Type, segment string) accessor {
	if t.Kind() == reflect.Map && t.Key().Kind() == reflect.String {
		return func(v reflect.Value) (reflect.Value, bool) {
			out := v.MapIndex(reflect.ValueOf(segment).Convert(t.Key()))
			return out, out.IsValid()
		}
	}

	name := capitalize(segment)
	for _, candidate := range []string{name, "Get" + name, "Is" + name} {
		if m, ok := t.MethodByName(candidate); ok && isGetter(m.Type) {
			index := m.Index
			return func(v reflect.Value) (reflect.Value, bool) {
				if v.Kind() == reflect.Pointer && v.IsNil() {
					return reflect.Value{}, false
				}
				return v.Method(index).Call(nil)[0], true
			}
		}
	}

	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return nil
	}
	if f, ok := st.FieldByName(name); ok && f.IsExported() {
		return fieldAccessor(f.Index)
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == segment {
			return fieldAccessor(f.Index)
		}
	}
	return nil
}

func fieldAccessor(index []int) accessor {
	return func(v reflect.Value) (reflect.Value, bool) {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		out, err := v.FieldByIndexErr(index)
		if err != nil {
			return reflect.Value{}, false
		}
		return out, true
	}
}

// isGetter matches methods taking only the receiver and returning one value.
func isGetter(mt reflect.Type) bool {
	return mt.NumIn() == 1 && mt.NumOut() == 1
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
