//go:build !js && !wasm

package jsrunner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cdr.dev/slog"
	"github.com/dop251/goja"

	"oss.terrastruct.com/muse/lib/log"
)

type gojaRunner struct {
	vm *goja.Runtime
}

type gojaValue struct {
	val goja.Value
	vm  *goja.Runtime
}

// NewJSRunner returns a fresh goja runtime. Each call is isolated.
// A goja runtime is not safe for concurrent use: callers must not touch the
// runner, or values it returned, from two goroutines at once.
func NewJSRunner() JSRunner {
	return &gojaRunner{vm: goja.New()}
}

func (g *gojaRunner) Engine() Engine {
	return Goja
}

func (g *gojaRunner) RunString(code string) (_ JSValue, err error) {
	defer recoverErr(&err)
	val, err := g.vm.RunString(code)
	if err != nil {
		return nil, err
	}
	return g.wrap(val), nil
}

func (g *gojaRunner) Global(name string) JSValue {
	return g.wrap(g.vm.Get(name))
}

func (g *gojaRunner) Set(name string, value interface{}) error {
	return g.vm.Set(name, g.unwrap(value))
}

func (g *gojaRunner) NewObject() JSValue {
	return g.wrap(g.vm.NewObject())
}

func (g *gojaRunner) Func(fn GoFunc) JSValue {
	return g.wrap(g.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]JSValue, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = g.wrap(a)
		}
		res, err := fn(args)
		if err != nil {
			panic(g.vm.NewGoError(err))
		}
		return g.vm.ToValue(g.unwrap(res))
	}))
}

// InstallConsole binds console.log/warn/error to the logger in ctx.
func InstallConsole(ctx context.Context, r JSRunner) error {
	g, ok := r.(*gojaRunner)
	if !ok {
		return nil
	}
	console := g.vm.NewObject()
	bind := func(name string, logf func(context.Context, string, ...slog.Field)) error {
		return console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			logf(ctx, strings.Join(parts, " "), slog.F("source", "console"))
			return goja.Undefined()
		})
	}
	if err := bind("log", log.Info); err != nil {
		return err
	}
	if err := bind("info", log.Info); err != nil {
		return err
	}
	if err := bind("warn", log.Warn); err != nil {
		return err
	}
	if err := bind("error", log.Error); err != nil {
		return err
	}
	return g.vm.Set("console", console)
}

func (g *gojaRunner) wrap(v goja.Value) *gojaValue {
	if v == nil {
		v = goja.Undefined()
	}
	return &gojaValue{val: v, vm: g.vm}
}

func (g *gojaRunner) unwrap(v interface{}) interface{} {
	switch v := v.(type) {
	case *gojaValue:
		return v.val
	case nil:
		return goja.Undefined()
	default:
		return v
	}
}

func (g *gojaRunner) unwrapArgs(args []interface{}) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = g.vm.ToValue(g.unwrap(a))
	}
	return out
}

func (v *gojaValue) Defined() bool {
	return !goja.IsUndefined(v.val) && !goja.IsNull(v.val)
}

func (v *gojaValue) Truthy() bool {
	return v.val.ToBoolean()
}

func (v *gojaValue) Get(name string) JSValue {
	g := &gojaRunner{vm: v.vm}
	if !v.Defined() {
		return g.wrap(nil)
	}
	obj, ok := v.val.(*goja.Object)
	if !ok {
		return g.wrap(nil)
	}
	return g.wrap(obj.Get(name))
}

func (v *gojaValue) Set(name string, value interface{}) (err error) {
	defer recoverErr(&err)
	if !v.Defined() {
		return fmt.Errorf("cannot set %q on %s", name, v.val.String())
	}
	g := &gojaRunner{vm: v.vm}
	return v.val.ToObject(v.vm).Set(name, g.unwrap(value))
}

func (v *gojaValue) Call(method string, args ...interface{}) (_ JSValue, err error) {
	defer recoverErr(&err)
	if !v.Defined() {
		return nil, fmt.Errorf("cannot call %s on %s", method, v.val.String())
	}
	g := &gojaRunner{vm: v.vm}
	obj := v.val.ToObject(v.vm)
	fn, ok := goja.AssertFunction(obj.Get(method))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", method)
	}
	res, err := fn(obj, g.unwrapArgs(args)...)
	if err != nil {
		return nil, err
	}
	return g.wrap(res), nil
}

func (v *gojaValue) Invoke(args ...interface{}) (_ JSValue, err error) {
	defer recoverErr(&err)
	fn, ok := goja.AssertFunction(v.val)
	if !ok {
		return nil, errors.New("value is not a function")
	}
	g := &gojaRunner{vm: v.vm}
	res, err := fn(goja.Undefined(), g.unwrapArgs(args)...)
	if err != nil {
		return nil, err
	}
	return g.wrap(res), nil
}

func (v *gojaValue) String() string {
	return v.val.String()
}

func (v *gojaValue) Export() interface{} {
	return v.val.Export()
}

func recoverErr(err *error) {
	if r := recover(); r != nil {
		switch r := r.(type) {
		case error:
			*err = r
		case goja.Value:
			*err = errors.New(r.String())
		default:
			*err = fmt.Errorf("panic: %v", r)
		}
	}
}
