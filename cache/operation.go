package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/phalt/clientele-sub001/sys"
)

// Call holds the arguments of a single invocation of an operation.
type Call struct {
	Args   []any
	Kwargs map[string]any
}

// Args returns a call made with positional arguments.
func Args(args ...any) Call {
	return Call{Args: args}
}

// Kwargs returns a call made with keyword arguments.
func Kwargs(kwargs map[string]any) Call {
	return Call{Kwargs: kwargs}
}

// With returns a copy of the call with an extra keyword argument.
func (c Call) With(name string, val any) Call {
	kwargs := make(map[string]any, len(c.Kwargs)+1)
	for k, v := range c.Kwargs {
		kwargs[k] = v
	}
	kwargs[name] = val
	return Call{Args: c.Args, Kwargs: kwargs}
}

// Bind binds the call against sig. See Signature.Bind.
func (c Call) Bind(sig Signature) (map[string]any, error) {
	return sig.Bind(c.Args, c.Kwargs)
}

// Operation is a synchronous operation that can be memoized.
type Operation[T any] interface {
	Signature() Signature
	Invoke(ctx context.Context, call Call) (T, error)
}

// AsyncOperation is an operation whose result is delivered on a channel.
// The channel receives exactly one Result and is then closed.
type AsyncOperation[T any] interface {
	Signature() Signature
	InvokeAsync(ctx context.Context, call Call) <-chan sys.Result[T]
}

// RequestContext is the HTTP identity of a generated operation.
type RequestContext struct {
	Method       string
	PathTemplate string
}

// RequestDescriber is implemented by operations built by an HTTP method
// constructor. The memoize wrappers use it to prefix keys with the method and
// to key on the path template instead of the operation name.
type RequestDescriber interface {
	RequestContext() RequestContext
}

// BackendProvider is implemented by operations bound to a client whose
// configuration carries a cache backend.
type BackendProvider interface {
	CacheBackend() Backend
}

// ExtractRequestContext recovers the method and path template of op. The
// method is upper-cased. It reports false when op does not describe a
// request, describes an incomplete one, or panics while doing so.
func ExtractRequestContext(op any) (rc RequestContext, ok bool) {
	defer func() {
		if recover() != nil {
			rc, ok = RequestContext{}, false
		}
	}()
	d, is := op.(RequestDescriber)
	if !is || isNil(op) {
		return RequestContext{}, false
	}
	rc = d.RequestContext()
	if rc.Method == "" || rc.PathTemplate == "" {
		return RequestContext{}, false
	}
	rc.Method = strings.ToUpper(rc.Method)
	return rc, true
}

// ExtractBackend returns the backend configured on the client op is bound
// to, or the process-wide DefaultBackend.
func ExtractBackend(op any) Backend {
	if b := providedBackend(op); b != nil {
		return b
	}
	return DefaultBackend()
}

func providedBackend(op any) (b Backend) {
	defer func() {
		if recover() != nil {
			b = nil
		}
	}()
	p, ok := op.(BackendProvider)
	if !ok || isNil(op) {
		return nil
	}
	b = p.CacheBackend()
	if isNil(b) {
		return nil
	}
	return b
}

var defaultBackend = sync.OnceValue(func() *MemoryBackend {
	return NewMemory()
})

// DefaultBackend returns the process-wide memory backend shared by every
// memoized operation that has no backend of its own. It is created on first
// use and lives for the rest of the process.
func DefaultBackend() *MemoryBackend {
	return defaultBackend()
}

type funcOperation[T any] struct {
	sig Signature
	fn  func(context.Context, Call) (T, error)
}

func (f *funcOperation[T]) Signature() Signature { return f.sig }

func (f *funcOperation[T]) Invoke(ctx context.Context, call Call) (T, error) {
	return f.fn(ctx, call)
}

// Func adapts a plain function into an Operation.
func Func[T any](sig Signature, fn func(context.Context, Call) (T, error)) Operation[T] {
	return &funcOperation[T]{sig: sig, fn: fn}
}

type asyncFuncOperation[T any] struct {
	sig Signature
	fn  func(context.Context, Call) <-chan sys.Result[T]
}

func (f *asyncFuncOperation[T]) Signature() Signature { return f.sig }

func (f *asyncFuncOperation[T]) InvokeAsync(ctx context.Context, call Call) <-chan sys.Result[T] {
	return f.fn(ctx, call)
}

// AsyncFunc adapts a channel-returning function into an AsyncOperation.
func AsyncFunc[T any](sig Signature, fn func(context.Context, Call) <-chan sys.Result[T]) AsyncOperation[T] {
	return &asyncFuncOperation[T]{sig: sig, fn: fn}
}
