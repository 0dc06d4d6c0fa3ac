package starbind

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type person struct {
	Name   string
	Age    int
	secret string
}

func TestEvalGlobals(t *testing.T) {
	env := New(&bytes.Buffer{})
	tests := []struct {
		expr    string
		globals map[string]interface{}
		want    interface{}
	}{
		{"x + 1", map[string]interface{}{"x": 41}, int64(42)},
		{"name.upper()", map[string]interface{}{"name": "task"}, "TASK"},
		{"p.Name", map[string]interface{}{"p": person{Name: "bob", Age: 3}}, "bob"},
		{"p.Age * 2", map[string]interface{}{"p": &person{Age: 21}}, int64(42)},
		{"len(xs)", map[string]interface{}{"xs": []int{1, 2, 3}}, int64(3)},
		{"m['b']", map[string]interface{}{"m": map[string]int{"a": 1, "b": 2}}, int64(2)},
		{"[x * 2 for x in xs]", map[string]interface{}{"xs": []int{1, 2}}, []interface{}{int64(2), int64(4)}},
		{"d == None", map[string]interface{}{"d": nil}, true},
		{"time.parse_duration('1s')", nil, time.Second},
	}
	for _, tt := range tests {
		v, err := env.Eval(context.Background(), tt.expr, tt.globals)
		if err != nil {
			t.Fatalf("%s: %v", tt.expr, err)
		}
		got := ToGo(v)
		if !equal(got, tt.want) {
			t.Errorf("%s: got %#v, want %#v", tt.expr, got, tt.want)
		}
	}
}

func equal(a, b interface{}) bool {
	as, aok := a.([]interface{})
	bs, bok := b.([]interface{})
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func TestEvalUnexportedField(t *testing.T) {
	env := New(&bytes.Buffer{})
	_, err := env.Eval(context.Background(), "p.secret", map[string]interface{}{"p": person{secret: "x"}})
	if err == nil || !strings.Contains(err.Error(), "not exported") {
		t.Fatalf("expected unexported field error, got %v", err)
	}
}

func TestDefine(t *testing.T) {
	out := &bytes.Buffer{}
	env := New(out)
	env.Define("double", "(N)", "returns twice N.", func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("wrong number of arguments")
		}
		return args[0].(int64) * 2, nil
	})
	v, err := env.Eval(context.Background(), "double(21)", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ToGo(v) != int64(42) {
		t.Fatalf("got %v", v)
	}
	if _, err := env.Eval(context.Background(), "double()", nil); err == nil || !strings.Contains(err.Error(), "wrong number of arguments") {
		t.Fatalf("builtin error not propagated: %v", err)
	}
	if _, err := env.Eval(context.Background(), "help(double)", nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "double returns twice N.") {
		t.Fatalf("unexpected help output %q", out.String())
	}
}

func TestEvalCancel(t *testing.T) {
	env := New(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.Eval(ctx, "len([x for x in range(1000000000) if False])", nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("evaluation was not cancelled")
	}
}

func TestEvalSyntaxError(t *testing.T) {
	env := New(&bytes.Buffer{})
	if _, err := env.Eval(context.Background(), "1 +", nil); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestToGoCycle(t *testing.T) {
	env := New(&bytes.Buffer{})
	for _, expr := range []string{
		"[(l.append(l), l) for l in [[]]][0][1]",
		"[(d.update(me=d), d) for d in [{}]][0][1]",
	} {
		v, err := env.Eval(context.Background(), expr, nil)
		if err != nil {
			t.Fatalf("%s: %v", expr, err)
		}
		switch got := ToGo(v).(type) {
		case []interface{}:
			if len(got) != 1 || got[0] != Elided {
				t.Errorf("%s: got %#v", expr, got)
			}
		case map[string]interface{}:
			if len(got) != 1 || got["me"] != Elided {
				t.Errorf("%s: got %#v", expr, got)
			}
		default:
			t.Errorf("%s: unexpected conversion %#v", expr, got)
		}
	}
}

func TestToGoSharedValue(t *testing.T) {
	env := New(&bytes.Buffer{})
	v, err := env.Eval(context.Background(), "[(x, x) for x in [[1]]][0]", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := ToGo(v).([]interface{})
	if !ok || len(got) != 2 {
		t.Fatalf("unexpected conversion %#v", ToGo(v))
	}
	for i := range got {
		if !equal(got[i], []interface{}{int64(1)}) {
			t.Errorf("element %d: got %#v", i, got[i])
		}
	}
}

func TestToGoDepth(t *testing.T) {
	env := New(&bytes.Buffer{})
	const n = 2 * MaxGoDepth
	expr := strings.Repeat("[", n) + "1" + strings.Repeat("]", n)
	v, err := env.Eval(context.Background(), expr, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := ToGo(v)
	for depth := 0; depth < MaxGoDepth; depth++ {
		l, ok := got.([]interface{})
		if !ok || len(l) != 1 {
			t.Fatalf("depth %d: unexpected conversion %#v", depth, got)
		}
		got = l[0]
	}
	if got != Elided {
		t.Fatalf("expected %q at depth %d, got %#v", Elided, MaxGoDepth, got)
	}
}
