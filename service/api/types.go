package api

import "reflect"

// Task is a live task of the runtime as shown by ps and zombie listings.
type Task struct {
	// ID is a unique identifier for the task.
	ID int64 `json:"id"`
	// Name is the name the task was started with.
	Name string `json:"name"`
	// Status is the scheduling state of the task.
	Status string `json:"status"`
	// Switches is the progress counter of the task.
	Switches uint64 `json:"switches"`
	// Depth is the number of frames captured at the last suspension point.
	Depth int `json:"depth"`
	// CurrentLoc is the innermost frame captured at the last suspension point.
	CurrentLoc Location `json:"currentLoc"`
}

// Location is a position in the source code of the program.
type Location struct {
	PC       uint64 `json:"pc"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function,omitempty"`
}

// Stackframe describes one frame in a stack trace.
type Stackframe struct {
	Location
	Vars []Variable
}

// Var returns the variable named name bound to the frame.
func (frame *Stackframe) Var(name string) *Variable {
	for i := range frame.Vars {
		if frame.Vars[i].Name == name {
			return &frame.Vars[i]
		}
	}
	return nil
}

// Variable describes a variable.
type Variable struct {
	// Name of the variable or struct member
	Name string `json:"name"`
	// Address of the variable or struct member, zero when the value is not
	// addressable.
	Addr uint64 `json:"addr"`
	// Only the address field is filled (result of a reference cycle or of
	// the recursion limit)
	OnlyAddr bool `json:"onlyAddr"`
	// Go type of the variable
	Type string `json:"type"`
	// Type of the variable after resolving any typedefs
	RealType string `json:"realType"`

	Kind reflect.Kind `json:"kind"`

	// Nil is set for nil pointers, interfaces, functions, channels, maps
	// and slices.
	Nil bool `json:"nil,omitempty"`

	// Strings have their length capped at LoadConfig.MaxStringLen, Len
	// holds the real length.
	Value string `json:"value"`

	// Number of elements in an array or a slice, number of keys for a map,
	// number of fields for a struct, length of strings.
	Len int64 `json:"len"`
	// Cap value for slices and channels
	Cap int64 `json:"cap"`

	// Array and slice elements, member fields of structs, key/value pairs
	// of maps, the value pointed to by a pointer, the concrete value of an
	// interface.
	// Arrays and slices are capped at LoadConfig.MaxArrayValues and struct
	// fields at LoadConfig.MaxStructFields.
	Children []Variable `json:"children"`

	// Base address of arrays, base address of the backing array for slices
	// (0 for nil slices), map header address for maps (0 for nil maps).
	Base uint64 `json:"base"`

	// Unreadable is set when the value could not be rendered, for example
	// because its String method panicked.
	Unreadable string `json:"unreadable"`
}

// LoadConfig describes how to load values.
type LoadConfig struct {
	// MaxVariableRecurse is how far to recurse when evaluating nested types.
	MaxVariableRecurse int
	// MaxStringLen is the maximum number of bytes read from a string.
	MaxStringLen int
	// MaxArrayValues is the maximum number of elements read from an array,
	// a slice or a map.
	MaxArrayValues int
	// MaxStructFields is the maximum number of fields read from a struct,
	// -1 will read all fields.
	MaxStructFields int
}

// DefaultLoadConfig is the configuration used when none is specified.
var DefaultLoadConfig = LoadConfig{
	MaxVariableRecurse: 1,
	MaxStringLen:       64,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}
