package starbind

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// ToStarlark converts a Go value into a starlark.Value.
// Structs, slices and maps are wrapped, not copied.
func ToStarlark(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case bool:
		return starlark.Bool(v)
	case uint8:
		return starlark.MakeUint64(uint64(v))
	case uint16:
		return starlark.MakeUint64(uint64(v))
	case uint32:
		return starlark.MakeUint64(uint64(v))
	case uint64:
		return starlark.MakeUint64(v)
	case uintptr:
		return starlark.MakeUint64(uint64(v))
	case uint:
		return starlark.MakeUint64(uint64(v))
	case int8:
		return starlark.MakeInt64(int64(v))
	case int16:
		return starlark.MakeInt64(int64(v))
	case int32:
		return starlark.MakeInt64(int64(v))
	case int64:
		return starlark.MakeInt64(v)
	case int:
		return starlark.MakeInt64(int64(v))
	case float32:
		return starlark.Float(v)
	case float64:
		return starlark.Float(v)
	case string:
		return starlark.String(v)
	case time.Duration:
		return startime.Duration(v)
	case time.Time:
		return startime.Time(v)
	case error:
		return starlark.String(v.Error())
	default:
		vval := reflect.ValueOf(v)
		switch vval.Type().Kind() {
		case reflect.Ptr:
			if vval.IsNil() {
				return starlark.None
			}
			if vval.Elem().Kind() == reflect.Struct {
				return structAsStarlarkValue{vval.Elem()}
			}
		case reflect.Struct:
			return structAsStarlarkValue{vval}
		case reflect.Slice, reflect.Array:
			return sliceAsStarlarkValue{vval}
		case reflect.Map:
			return mapAsStarlarkValue{vval}
		}
		return starlark.String(fmt.Sprintf("%v", v))
	}
}

// MaxGoDepth is how deep ToGo follows nested lists, tuples and dicts.
// Deeper containers, and containers that contain themselves, become
// Elided.
const MaxGoDepth = 64

// Elided replaces the containers ToGo does not follow.
const Elided = "[...]"

// ToGo converts a starlark.Value back into a Go value. Wrapped Go values
// are unwrapped.
func ToGo(v starlark.Value) interface{} {
	return toGo(v, 0, make(map[starlark.Value]bool))
}

// inProgress holds the lists and dicts being converted.
func toGo(v starlark.Value, depth int, inProgress map[starlark.Value]bool) interface{} {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if n, ok := v.Int64(); ok {
			return n
		}
		return v.BigInt()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	case startime.Duration:
		return time.Duration(v)
	case startime.Time:
		return time.Time(v)
	case *starlark.List:
		if depth >= MaxGoDepth || inProgress[v] {
			return Elided
		}
		inProgress[v] = true
		defer delete(inProgress, v)
		r := make([]interface{}, v.Len())
		for i := range r {
			r[i] = toGo(v.Index(i), depth+1, inProgress)
		}
		return r
	case starlark.Tuple:
		if depth >= MaxGoDepth {
			return Elided
		}
		r := make([]interface{}, len(v))
		for i := range v {
			r[i] = toGo(v[i], depth+1, inProgress)
		}
		return r
	case *starlark.Dict:
		if depth >= MaxGoDepth || inProgress[v] {
			return Elided
		}
		inProgress[v] = true
		defer delete(inProgress, v)
		r := make(map[string]interface{}, v.Len())
		for _, item := range v.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				k = item[0].String()
			}
			r[k] = toGo(item[1], depth+1, inProgress)
		}
		return r
	case structAsStarlarkValue:
		return goValue(v.v)
	case sliceAsStarlarkValue:
		return goValue(v.v)
	case mapAsStarlarkValue:
		return goValue(v.v)
	default:
		return v.String()
	}
}

func goValue(v reflect.Value) interface{} {
	if v.CanInterface() {
		return v.Interface()
	}
	return fmt.Sprintf("%v", v)
}

func fieldToStarlark(v reflect.Value, name string) (starlark.Value, error) {
	if !v.CanInterface() {
		return starlark.None, fmt.Errorf("field %q is not exported", name)
	}
	return ToStarlark(v.Interface()), nil
}

// sliceAsStarlarkValue converts a reflect.Value containing a slice
// into a starlark value.
// The public methods of sliceAsStarlarkValue implement the Indexable and
// Sequence starlark interfaces.
type sliceAsStarlarkValue struct {
	v reflect.Value
}

var _ starlark.Indexable = sliceAsStarlarkValue{}
var _ starlark.Sequence = sliceAsStarlarkValue{}

func (v sliceAsStarlarkValue) Freeze() {
}

func (v sliceAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v sliceAsStarlarkValue) String() string {
	return fmt.Sprintf("%v", goValue(v.v))
}

func (v sliceAsStarlarkValue) Truth() starlark.Bool {
	return v.v.Len() != 0
}

func (v sliceAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v sliceAsStarlarkValue) Index(i int) starlark.Value {
	if i >= v.v.Len() {
		return nil
	}
	r, err := fieldToStarlark(v.v.Index(i), fmt.Sprintf("[%d]", i))
	if err != nil {
		return starlark.None
	}
	return r
}

func (v sliceAsStarlarkValue) Len() int {
	return v.v.Len()
}

func (v sliceAsStarlarkValue) Iterate() starlark.Iterator {
	return &sliceAsStarlarkValueIterator{0, v}
}

type sliceAsStarlarkValueIterator struct {
	cur int
	v   sliceAsStarlarkValue
}

func (it *sliceAsStarlarkValueIterator) Done() {
}

func (it *sliceAsStarlarkValueIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.v.Len() {
		return false
	}
	*p = it.v.Index(it.cur)
	it.cur++
	return true
}

// structAsStarlarkValue converts any Go struct into a starlark.Value.
// The public methods of structAsStarlarkValue implement the
// starlark.HasAttrs interface.
type structAsStarlarkValue struct {
	v reflect.Value
}

var _ starlark.HasAttrs = structAsStarlarkValue{}

func (v structAsStarlarkValue) Freeze() {
}

func (v structAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v structAsStarlarkValue) String() string {
	return fmt.Sprintf("%+v", goValue(v.v))
}

func (v structAsStarlarkValue) Truth() starlark.Bool {
	return true
}

func (v structAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v structAsStarlarkValue) Attr(name string) (starlark.Value, error) {
	r := v.v.FieldByName(name)
	if r == (reflect.Value{}) {
		return nil, nil // no such field
	}
	return fieldToStarlark(r, name)
}

func (v structAsStarlarkValue) AttrNames() []string {
	typ := v.v.Type()
	r := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			r = append(r, typ.Field(i).Name)
		}
	}
	return r
}

// mapAsStarlarkValue converts a Go map into a starlark.Value.
// The public methods of mapAsStarlarkValue implement the starlark.Mapping
// and starlark.IterableMapping interfaces.
type mapAsStarlarkValue struct {
	v reflect.Value
}

var _ starlark.IterableMapping = mapAsStarlarkValue{}

func (v mapAsStarlarkValue) Freeze() {
}

func (v mapAsStarlarkValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("not hashable")
}

func (v mapAsStarlarkValue) String() string {
	return fmt.Sprintf("%v", goValue(v.v))
}

func (v mapAsStarlarkValue) Truth() starlark.Bool {
	return v.v.Len() != 0
}

func (v mapAsStarlarkValue) Type() string {
	return v.v.Type().String()
}

func (v mapAsStarlarkValue) Get(key starlark.Value) (starlark.Value, bool, error) {
	k := reflect.ValueOf(ToGo(key))
	kt := v.v.Type().Key()
	if !k.IsValid() || !k.Type().ConvertibleTo(kt) {
		return starlark.None, false, nil
	}
	r := v.v.MapIndex(k.Convert(kt))
	if !r.IsValid() {
		return starlark.None, false, nil
	}
	sv, err := fieldToStarlark(r, key.String())
	return sv, err == nil, err
}

func (v mapAsStarlarkValue) keys() []starlark.Value {
	keys := v.v.MapKeys()
	r := make([]starlark.Value, 0, len(keys))
	for _, k := range keys {
		if sv, err := fieldToStarlark(k, "key"); err == nil {
			r = append(r, sv)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].String() < r[j].String() })
	return r
}

func (v mapAsStarlarkValue) Items() []starlark.Tuple {
	keys := v.keys()
	r := make([]starlark.Tuple, 0, len(keys))
	for _, k := range keys {
		val, _, _ := v.Get(k)
		r = append(r, starlark.Tuple{k, val})
	}
	return r
}

func (v mapAsStarlarkValue) Iterate() starlark.Iterator {
	return &sliceAsStarlarkValueIterator{0, sliceAsStarlarkValue{reflect.ValueOf(v.keys())}}
}
