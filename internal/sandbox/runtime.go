package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/importmap"
)

// typeUncaught is posted by the host on behalf of a script that threw out of
// a message handler or timer, so pending requests fail instead of hanging.
const typeUncaught = "uncaught-error"

// runtime is one goja VM plus the event loop that owns it. Fields marked
// loop-only must not be touched from any other goroutine.
type runtime struct {
	id      string
	kind    Kind
	version string
	bus     *bus
	logger  *zap.Logger
	loader  ModuleLoader
	imports *importmap.Map

	loop *eventloop.EventLoop
	// live holds the loop's VM once the first job has run, for Interrupt.
	live atomic.Pointer[goja.Runtime]

	vm        *goja.Runtime           // loop-only
	modules   map[string]*goja.Object // loop-only
	parse     goja.Callable           // loop-only
	stringify goja.Callable           // loop-only

	stopped   atomic.Bool
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
}

func newRuntime(id string, kind Kind, payload Payload, b *bus, loader ModuleLoader, logger *zap.Logger) *runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &runtime{
		id:      id,
		kind:    kind,
		version: payload.Version,
		bus:     b,
		logger:  logger,
		loader:  loader,
		imports: payload.ImportMap,
		loop:    eventloop.NewEventLoop(eventloop.EnableConsole(false)),
		modules: make(map[string]*goja.Object),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// start launches the loop and queues the bootstrap document. onFail is
// called from the loop if the document cannot be evaluated.
func (r *runtime) start(document string, onFail func(error)) {
	r.loop.Start()

	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		r.vm = vm
		r.live.Store(vm)
		// close may have run before the VM was published.
		if r.ctx.Err() != nil {
			return
		}
		vm.SetMaxCallStackSize(8192)

		if err := r.setupGlobals(); err != nil {
			onFail(err)
			return
		}
		if _, err := vm.RunScript(string(r.kind)+".js", document); err != nil {
			onFail(err)
		}
	})
}

func (r *runtime) enqueue(job func()) bool {
	if r.stopped.Load() {
		return false
	}
	return r.loop.RunOnLoop(func(*goja.Runtime) { job() })
}

// post delivers a host message to the script's onmessage handler.
func (r *runtime) post(message interface{}) error {
	raw, err := sonic.MarshalString(message)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if !r.enqueue(func() { r.dispatch(raw) }) {
		return ErrReleased
	}
	return nil
}

func (r *runtime) dispatch(raw string) {
	if r.parse == nil {
		// Bootstrap never completed.
		return
	}
	data, err := r.parse(goja.Undefined(), r.vm.ToValue(raw))
	if err != nil {
		r.uncaught(err)
		return
	}

	handler, ok := goja.AssertFunction(r.vm.Get("onmessage"))
	if !ok {
		r.logger.Warn("message dropped, no onmessage handler")
		return
	}

	event := r.vm.NewObject()
	_ = event.Set("data", data)
	_ = event.Set("origin", "host")
	if _, err := handler(goja.Undefined(), event); err != nil {
		r.uncaught(err)
	}
}

func (r *runtime) uncaught(err error) {
	if _, interrupted := err.(*goja.InterruptedError); interrupted {
		return
	}
	r.logger.Error("uncaught sandbox error", zap.Error(err))
	r.bus.publish(Envelope{
		Source: r.id,
		Data:   map[string]interface{}{"type": typeUncaught, "message": err.Error()},
	})
}

// close interrupts any running script, cancels in-flight module loads and
// terminates the loop along with its timers. Safe to call more than once,
// but never from the loop itself.
func (r *runtime) close() {
	r.closeOnce.Do(func() {
		r.stopped.Store(true)
		r.cancel()
		if vm := r.live.Load(); vm != nil {
			vm.Interrupt("sandbox released")
		}
		r.loop.Terminate()
	})
}

// setupGlobals configures the script-visible API and removes Node globals.
func (r *runtime) setupGlobals() error {
	vm := r.vm

	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return fmt.Errorf("JSON.parse unavailable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return fmt.Errorf("JSON.stringify unavailable")
	}
	r.parse, r.stringify = parse, stringify

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}

	globals := map[string]interface{}{
		"console":      console,
		"self":         vm.GlobalObject(),
		"postMessage":  r.postMessage,
		"setTimeout":   r.setTimeout,
		"clearTimeout": r.clearTimeout,
	}
	if r.kind == KindCompiler {
		globals["compilerVersion"] = r.version
		if r.loader != nil {
			globals["require"] = r.makeRequire("")
		}
	}

	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			r.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			r.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			r.logger.Debug(msg, zap.String("source", "console"))
		default:
			r.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

// postMessage copies the argument out of the VM as JSON and publishes it,
// stamped with this sandbox's ID.
func (r *runtime) postMessage(call goja.FunctionCall) goja.Value {
	encoded, err := r.stringify(goja.Undefined(), call.Argument(0))
	if err != nil {
		panic(err)
	}

	var data interface{}
	if !goja.IsUndefined(encoded) {
		if err := sonic.UnmarshalString(encoded.String(), &data); err != nil {
			panic(r.vm.NewGoError(fmt.Errorf("postMessage: %w", err)))
		}
	}

	r.bus.publish(Envelope{Source: r.id, Data: data})
	return goja.Undefined()
}

// setTimeout schedules fn on the loop. Unlike the loop's own global, a
// throwing callback is reported as an uncaught error.
func (r *runtime) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(r.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond

	timer := r.loop.SetTimeout(func(*goja.Runtime) {
		if _, err := fn(goja.Undefined()); err != nil {
			r.uncaught(err)
		}
	}, delay)
	return r.vm.ToValue(timer)
}

func (r *runtime) clearTimeout(call goja.FunctionCall) goja.Value {
	if timer, ok := call.Argument(0).Export().(*eventloop.Timer); ok {
		r.loop.ClearTimeout(timer)
	}
	return goja.Undefined()
}

// makeRequire returns a CommonJS require bound to the module at parentURL.
func (r *runtime) makeRequire(parentURL string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		exports, err := r.require(call.Argument(0).String(), parentURL)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return exports
	}
}

func (r *runtime) require(specifier, parentURL string) (goja.Value, error) {
	target, err := r.resolve(specifier, parentURL)
	if err != nil {
		return nil, err
	}
	if module, ok := r.modules[target]; ok {
		return module.Get("exports"), nil
	}

	source, err := r.loader.Load(r.ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", target, err)
	}
	source, err = toCommonJS(target, source)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", target, err)
	}

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	_ = module.Set("exports", exports)
	// Registered before evaluation so cyclic requires see partial exports.
	r.modules[target] = module

	wrapper, err := r.vm.RunScript(target, "(function (module, exports, require) {\n"+source+"\n})")
	if err != nil {
		delete(r.modules, target)
		return nil, fmt.Errorf("compile %s: %w", target, err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		delete(r.modules, target)
		return nil, fmt.Errorf("compile %s: not a function", target)
	}
	if _, err := fn(goja.Undefined(), module, exports, r.vm.ToValue(r.makeRequire(target))); err != nil {
		delete(r.modules, target)
		return nil, fmt.Errorf("evaluate %s: %w", target, err)
	}

	r.logger.Debug("module loaded", zap.String("url", target))
	return module.Get("exports"), nil
}

func (r *runtime) resolve(specifier, parentURL string) (string, error) {
	if target, ok := r.imports.Resolve(specifier, parentURL); ok {
		return target, nil
	}

	switch {
	case strings.HasPrefix(specifier, "https://"), strings.HasPrefix(specifier, "http://"):
		return specifier, nil
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"), strings.HasPrefix(specifier, "/"):
		if parentURL == "" {
			return "", fmt.Errorf("relative specifier %q outside a module", specifier)
		}
		base, err := url.Parse(parentURL)
		if err != nil {
			return "", err
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(ref).String(), nil
	}

	return "", fmt.Errorf("specifier %q is not in the import map", specifier)
}
