// Package facts holds the immutable fact context that rules read and replace.
//
// A Facts value is a snapshot. Put never mutates the receiver; it returns a new
// snapshot that shares untouched sub-maps with the old one. Because no snapshot
// ever writes into a map it did not allocate itself, sharing is safe.
package facts

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Facts is an immutable key/value context. The zero value is an empty context.
type Facts struct {
	data map[string]any
}

// New builds a Facts from the given map. Nested maps are deep-copied so the
// caller can keep mutating its own map without affecting the snapshot.
func New(data map[string]any) Facts {
	if len(data) == 0 {
		return Facts{}
	}
	return Facts{data: deepCopy(data)}
}

// Empty returns a Facts with no entries.
func Empty() Facts {
	return Facts{}
}

// Put stores value under key and returns the new snapshot. A dotted key
// ("user.address.city") writes into nested maps, creating them as needed; an
// intermediate value that is not a map is replaced by one.
func (f Facts) Put(key string, value any) Facts {
	if m, ok := value.(map[string]any); ok {
		value = deepCopy(m)
	}
	next := make(map[string]any, len(f.data)+1)
	for k, v := range f.data {
		next[k] = v
	}
	if !strings.Contains(key, ".") {
		next[key] = value
		return Facts{data: next}
	}
	putNested(next, splitPath(key), value)
	return Facts{data: next}
}

// putNested copies every map along path before writing into it.
func putNested(target map[string]any, path []string, value any) {
	head := path[0]
	if len(path) == 1 {
		target[head] = value
		return
	}
	var child map[string]any
	if existing, ok := target[head].(map[string]any); ok {
		child = make(map[string]any, len(existing)+1)
		for k, v := range existing {
			child[k] = v
		}
	} else {
		child = make(map[string]any)
	}
	target[head] = child
	putNested(child, path[1:], value)
}

// Get returns the value stored under key, or nil when any segment of the path
// is missing. Map values are returned as copies.
func (f Facts) Get(key string) any {
	var v any
	if !strings.Contains(key, ".") {
		v = f.data[key]
	} else {
		v = resolve(f.data, splitPath(key))
	}
	if m, ok := v.(map[string]any); ok {
		return deepCopy(m)
	}
	return v
}

// Lookup is like Get but reports whether the path resolved to a non-nil value.
func (f Facts) Lookup(key string) (any, bool) {
	v := f.Get(key)
	return v, v != nil
}

// Contains reports whether key resolves to a non-nil value.
func (f Facts) Contains(key string) bool {
	_, ok := f.Lookup(key)
	return ok
}

// GetAs returns the value under key converted to T. A missing key yields the
// zero value of T and no error; a value of another type is an error.
func GetAs[T any](f Facts, key string) (T, error) {
	var zero T
	v := f.Get(key)
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("fact %q is %T, cannot convert to %s", key, v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// Len returns the number of top-level entries.
func (f Facts) Len() int {
	return len(f.data)
}

// Keys returns the top-level keys in sorted order.
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AsMap returns a deep copy of the underlying data.
func (f Facts) AsMap() map[string]any {
	if f.data == nil {
		return map[string]any{}
	}
	return deepCopy(f.data)
}

func (f Facts) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range f.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, f.data[k])
	}
	b.WriteByte('}')
	return b.String()
}

func deepCopy(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		if m, ok := v.(map[string]any); ok {
			dst[k] = deepCopy(m)
			continue
		}
		dst[k] = v
	}
	return dst
}
