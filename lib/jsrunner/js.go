//go:build js && wasm

package jsrunner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall/js"
)

var (
	instance JSRunner
	once     sync.Once
)

type jsRunner struct {
	global js.Value
}

type jsValue struct {
	val js.Value
}

// NewJSRunner returns the runner bound to the page's global scope.
func NewJSRunner() JSRunner {
	once.Do(func() {
		instance = &jsRunner{global: js.Global()}
	})
	return instance
}

func (j *jsRunner) Engine() Engine {
	return Native
}

func (j *jsRunner) RunString(code string) (_ JSValue, err error) {
	defer recoverErr(&err)
	result := j.global.Call("eval", code)
	return &jsValue{val: result}, nil
}

func (j *jsRunner) Global(name string) JSValue {
	return &jsValue{val: j.global.Get(name)}
}

func (j *jsRunner) Set(name string, value interface{}) (err error) {
	defer recoverErr(&err)
	j.global.Set(name, unwrap(value))
	return nil
}

func (j *jsRunner) NewObject() JSValue {
	return &jsValue{val: js.Global().Get("Object").New()}
}

// Func wraps fn with js.FuncOf. The function is never released; callers
// only export long lived namespace functions.
func (j *jsRunner) Func(fn GoFunc) JSValue {
	f := js.FuncOf(func(this js.Value, args []js.Value) (result any) {
		defer func() {
			if r := recover(); r != nil {
				result = js.Global().Get("Error").New(fmt.Sprintf("panic recovered: %v", r))
			}
		}()
		wrapped := make([]JSValue, len(args))
		for i, a := range args {
			wrapped[i] = &jsValue{val: a}
		}
		res, err := fn(wrapped)
		if err != nil {
			return js.Global().Get("Error").New(err.Error())
		}
		return unwrap(res)
	})
	return &jsValue{val: f.Value}
}

// InstallConsole is a no-op in the browser, which has its own console.
func InstallConsole(ctx context.Context, r JSRunner) error {
	return nil
}

func unwrap(v interface{}) interface{} {
	switch v := v.(type) {
	case *jsValue:
		return v.val
	case nil:
		return js.Undefined()
	default:
		return v
	}
}

func unwrapArgs(args []interface{}) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = unwrap(a)
	}
	return out
}

func (v *jsValue) Defined() bool {
	return !v.val.IsUndefined() && !v.val.IsNull()
}

func (v *jsValue) Truthy() bool {
	return v.val.Truthy()
}

// Get returns undefined for primitives. js.Value.Get panics on them.
func (v *jsValue) Get(name string) JSValue {
	switch v.val.Type() {
	case js.TypeObject, js.TypeFunction:
	default:
		return &jsValue{val: js.Undefined()}
	}
	return &jsValue{val: v.val.Get(name)}
}

func (v *jsValue) Set(name string, value interface{}) (err error) {
	defer recoverErr(&err)
	if !v.Defined() {
		return fmt.Errorf("cannot set %q on %s", name, v.val.Type())
	}
	v.val.Set(name, unwrap(value))
	return nil
}

func (v *jsValue) Call(method string, args ...interface{}) (_ JSValue, err error) {
	defer recoverErr(&err)
	if !v.Defined() {
		return nil, fmt.Errorf("cannot call %s on %s", method, v.val.Type())
	}
	if v.val.Get(method).Type() != js.TypeFunction {
		return nil, fmt.Errorf("%s is not a function", method)
	}
	return &jsValue{val: v.val.Call(method, unwrapArgs(args)...)}, nil
}

func (v *jsValue) Invoke(args ...interface{}) (_ JSValue, err error) {
	defer recoverErr(&err)
	if v.val.Type() != js.TypeFunction {
		return nil, errors.New("value is not a function")
	}
	return &jsValue{val: v.val.Invoke(unwrapArgs(args)...)}, nil
}

func (v *jsValue) String() string {
	switch v.val.Type() {
	case js.TypeString:
		return v.val.String()
	case js.TypeUndefined:
		return "undefined"
	case js.TypeNull:
		return "null"
	default:
		return v.val.Call("toString").String()
	}
}

func (v *jsValue) Export() interface{} {
	switch v.val.Type() {
	case js.TypeString:
		return v.val.String()
	case js.TypeNumber:
		return v.val.Float()
	case js.TypeBoolean:
		return v.val.Bool()
	case js.TypeObject:
		if v.val.InstanceOf(js.Global().Get("Array")) {
			length := v.val.Length()
			arr := make([]interface{}, length)
			for i := 0; i < length; i++ {
				arr[i] = (&jsValue{val: v.val.Index(i)}).Export()
			}
			return arr
		}
		obj := make(map[string]interface{})
		keys := js.Global().Get("Object").Call("keys", v.val)
		length := keys.Length()
		for i := 0; i < length; i++ {
			key := keys.Index(i).String()
			obj[key] = (&jsValue{val: v.val.Get(key)}).Export()
		}
		return obj
	default:
		return nil
	}
}

func recoverErr(err *error) {
	if r := recover(); r != nil {
		if jsErr, ok := r.(js.Error); ok {
			*err = jsErr
			return
		}
		*err = fmt.Errorf("panic: %v", r)
	}
}
