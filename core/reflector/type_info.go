// Package reflector names Go types for registries and persisted records.
// Results are cached per type.
package reflector

import (
	"reflect"
	"sync"
)

// maxCacheSize bounds the cache; it is cleared when exceeded.
const maxCacheSize = 1024

var (
	muCache sync.RWMutex
	cache   = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	Name  string // "pkg/path.TypeName"
	Short string // "TypeName"
	Type  reflect.Type
}

// TypeInfoOf describes the dynamic type of x, looking through one pointer.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	muCache.RLock()
	ti, ok := cache[t]
	muCache.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Short: t.Name(), Type: t}
	if t.PkgPath() != "" {
		ti.Name = t.PkgPath() + "." + t.Name()
	} else {
		// builtin and unnamed types
		ti.Name = t.String()
		ti.Short = t.String()
	}

	muCache.Lock()
	// another caller may have filled it since the read
	if existing, ok := cache[t]; ok {
		muCache.Unlock()
		return existing
	}
	if len(cache) >= maxCacheSize {
		cache = make(map[reflect.Type]TypeInfo)
	}
	cache[t] = ti
	muCache.Unlock()

	return ti
}

// NameOf is TypeInfoOf(x).Name.
func NameOf(x any) string { return TypeInfoOf(x).Name }

// Deref returns the value p points to when p is a non-nil pointer, and p
// itself otherwise.
func Deref(p any) any {
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		return v.Elem().Interface()
	}
	return p
}
