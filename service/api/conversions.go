package api

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strconv"

	"github.com/go-delve/sdb/pkg/coro"
)

// ConvertTask converts a runtime task to an API Task.
func ConvertTask(t *coro.Task) *Task {
	r := &Task{
		ID:       t.ID(),
		Name:     t.Name(),
		Status:   t.Status().String(),
		Switches: t.Switches(),
	}
	stack := t.Stack()
	r.Depth = len(stack)
	if len(stack) > 0 {
		r.CurrentLoc = ConvertLocation(stack[0])
	}
	return r
}

// ConvertLocation converts a captured frame to a Location.
func ConvertLocation(f coro.Frame) Location {
	return Location{
		PC:       uint64(f.PC),
		File:     f.File,
		Line:     f.Line,
		Function: f.Function,
	}
}

// ConvertStack converts the frames of a task to API stack frames. Variables
// are only loaded when cfg is not nil.
func ConvertStack(frames []coro.Frame, cfg *LoadConfig) []Stackframe {
	r := make([]Stackframe, len(frames))
	for i := range frames {
		r[i].Location = ConvertLocation(frames[i])
		if cfg != nil {
			r[i].Vars = ConvertVars(frames[i].Vars, *cfg)
		}
	}
	return r
}

// ConvertVars loads the values of vars.
func ConvertVars(vars []coro.Var, cfg LoadConfig) []Variable {
	r := make([]Variable, len(vars))
	for i := range vars {
		r[i] = LoadValue(vars[i].Name, vars[i].Value, cfg)
	}
	return r
}

// LoadValue converts a Go value to a Variable, following the limits of
// cfg.
// Unexported struct fields are read through reflection, without calling
// Interface on them.
func LoadValue(name string, v interface{}, cfg LoadConfig) Variable {
	l := &loader{cfg: cfg, inProgress: make(map[visit]bool)}
	return l.load(name, reflect.ValueOf(v), 0)
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type loader struct {
	cfg        LoadConfig
	inProgress map[visit]bool
}

var (
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
)

func (l *loader) load(name string, rv reflect.Value, recurseLevel int) Variable {
	if !rv.IsValid() {
		return Variable{Name: name, Kind: reflect.Invalid, Nil: true, Value: "nil"}
	}
	typ := rv.Type()
	v := Variable{
		Name:     name,
		Type:     typ.String(),
		RealType: typ.Kind().String(),
		Kind:     typ.Kind(),
	}
	if rv.CanAddr() {
		v.Addr = uint64(rv.UnsafeAddr())
	}

	if s, ok, err := l.stringer(rv); ok {
		if err != nil {
			v.Unreadable = err.Error()
			return v
		}
		v.Kind = reflect.String
		l.loadString(&v, s)
		return v
	}

	switch typ.Kind() {
	case reflect.Bool:
		v.Value = strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.Value = strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v.Value = strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		v.Value = strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		v.Value = strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		bits := 64
		if typ.Kind() == reflect.Complex64 {
			bits = 32
		}
		v.Children = []Variable{
			{Name: "real", Kind: reflect.Float64, Value: strconv.FormatFloat(real(c), 'g', -1, bits)},
			{Name: "imaginary", Kind: reflect.Float64, Value: strconv.FormatFloat(imag(c), 'g', -1, bits)},
		}
	case reflect.String:
		l.loadString(&v, rv.String())
	case reflect.Ptr:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		key := visit{rv.Pointer(), typ}
		if l.inProgress[key] || recurseLevel > l.cfg.MaxVariableRecurse {
			v.Children = []Variable{{Addr: uint64(rv.Pointer()), OnlyAddr: true, Type: typ.Elem().String(), Kind: typ.Elem().Kind()}}
			return v
		}
		l.inProgress[key] = true
		v.Children = []Variable{l.load("", rv.Elem(), recurseLevel+1)}
		delete(l.inProgress, key)
	case reflect.UnsafePointer:
		if rv.Pointer() != 0 {
			v.Children = []Variable{{Addr: uint64(rv.Pointer())}}
		}
	case reflect.Interface:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		v.Children = []Variable{l.load("data", rv.Elem(), recurseLevel)}
	case reflect.Slice:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		v.Base = uint64(rv.Pointer())
		v.Len = int64(rv.Len())
		v.Cap = int64(rv.Cap())
		l.loadArrayValues(&v, rv, recurseLevel)
	case reflect.Array:
		v.Len = int64(rv.Len())
		v.Cap = v.Len
		l.loadArrayValues(&v, rv, recurseLevel)
	case reflect.Map:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		v.Base = uint64(rv.Pointer())
		v.Len = int64(rv.Len())
		if recurseLevel <= l.cfg.MaxVariableRecurse {
			l.loadMap(&v, rv, recurseLevel)
		}
	case reflect.Struct:
		v.Len = int64(rv.NumField())
		if recurseLevel <= l.cfg.MaxVariableRecurse {
			n := rv.NumField()
			if l.cfg.MaxStructFields >= 0 && n > l.cfg.MaxStructFields {
				n = l.cfg.MaxStructFields
			}
			v.Children = make([]Variable, 0, n)
			for i := 0; i < n; i++ {
				v.Children = append(v.Children, l.load(typ.Field(i).Name, rv.Field(i), recurseLevel+1))
			}
		}
	case reflect.Func:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			v.Value = fn.Name()
		} else {
			v.Value = fmt.Sprintf("%#x", rv.Pointer())
		}
	case reflect.Chan:
		if rv.IsNil() {
			v.Nil = true
			return v
		}
		v.Len = int64(rv.Len())
		v.Cap = int64(rv.Cap())
		v.Children = []Variable{
			{Name: "qcount", Kind: reflect.Int, Value: strconv.Itoa(rv.Len())},
			{Name: "dataqsiz", Kind: reflect.Int, Value: strconv.Itoa(rv.Cap())},
		}
	default:
		v.Unreadable = fmt.Sprintf("unsupported kind %s", typ.Kind())
	}
	return v
}

func (l *loader) loadString(v *Variable, s string) {
	v.Len = int64(len(s))
	if l.cfg.MaxStringLen > 0 && len(s) > l.cfg.MaxStringLen {
		s = s[:l.cfg.MaxStringLen]
	}
	v.Value = s
}

func (l *loader) loadArrayValues(v *Variable, rv reflect.Value, recurseLevel int) {
	if recurseLevel > l.cfg.MaxVariableRecurse {
		return
	}
	n := rv.Len()
	if l.cfg.MaxArrayValues > 0 && n > l.cfg.MaxArrayValues {
		n = l.cfg.MaxArrayValues
	}
	v.Children = make([]Variable, 0, n)
	for i := 0; i < n; i++ {
		v.Children = append(v.Children, l.load("", rv.Index(i), recurseLevel+1))
	}
}

func (l *loader) loadMap(v *Variable, rv reflect.Value, recurseLevel int) {
	type entry struct {
		key   Variable
		value reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, entry{l.load("", iter.Key(), recurseLevel+1), iter.Value()})
	}
	sort.SliceStable(entries, func(i, j int) bool { return lessKey(entries[i].key.Value, entries[j].key.Value) })
	n := len(entries)
	if l.cfg.MaxArrayValues > 0 && n > l.cfg.MaxArrayValues {
		n = l.cfg.MaxArrayValues
	}
	v.Children = make([]Variable, 0, 2*n)
	for _, e := range entries[:n] {
		v.Children = append(v.Children, e.key, l.load("", e.value, recurseLevel+1))
	}
}

// lessKey orders map keys numerically when both are numbers.
func lessKey(a, b string) bool {
	x, errx := strconv.ParseFloat(a, 64)
	y, erry := strconv.ParseFloat(b, 64)
	if errx == nil && erry == nil {
		return x < y
	}
	return a < b
}

// stringer renders values whose type implements error or fmt.Stringer.
// A panicking method is reported as an error.
func (l *loader) stringer(rv reflect.Value) (s string, ok bool, err error) {
	if !rv.CanInterface() {
		return "", false, nil
	}
	typ := rv.Type()
	if !typ.Implements(errorType) && !typ.Implements(stringerType) {
		return "", false, nil
	}
	switch typ.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return "", false, nil
		}
	}
	defer func() {
		if r := recover(); r != nil {
			ok = true
			err = fmt.Errorf("String() panicked: %v", r)
		}
	}()
	switch x := rv.Interface().(type) {
	case error:
		return x.Error(), true, nil
	case fmt.Stringer:
		return x.String(), true, nil
	}
	return "", false, nil
}
