package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"regexp"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/sys"
)

// Parameter names with a fixed meaning for generated operations.
const (
	ParamData    = "data"
	ParamHeaders = "headers"
)

var placeholder = regexp.MustCompile(`\{([^{}/]+)\}`)

// PathParams returns the placeholder names of a path template in order.
func PathParams(template string) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// RenderPath fills every {name} placeholder of template with the escaped
// value of params[name].
//
//	RenderPath("/pokemon/{id}", map[string]any{"id": 25}) // "/pokemon/25"
func RenderPath(template string, params map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		val, ok := params[name]
		if !ok || val == nil {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(cache.SerializeValue(val))
	})
	if len(missing) > 0 {
		return "", errors.Newf("missing value for path parameter(s) %v in %s", missing, template)
	}
	return out, nil
}

// Operation is a typed request against one endpoint of a Client. It can be
// invoked directly or passed to cache.Memoize and cache.MemoizeAsync, which
// pick up its method, path template and the client's cache backend.
type Operation[T any] struct {
	client   *Client
	method   string
	template string
	sig      cache.Signature
}

var (
	_ cache.Operation[any]      = (*Operation[any])(nil)
	_ cache.AsyncOperation[any] = (*Operation[any])(nil)
	_ cache.RequestDescriber    = (*Operation[any])(nil)
	_ cache.BackendProvider     = (*Operation[any])(nil)
)

func newOperation[T any](c *Client, method, template string, sig cache.Signature) *Operation[T] {
	return &Operation[T]{client: c, method: method, template: template, sig: sig}
}

// Get declares a GET operation on template.
func Get[T any](c *Client, template string, sig cache.Signature) *Operation[T] {
	return newOperation[T](c, http.MethodGet, template, sig)
}

// Post declares a POST operation on template. The "data" parameter is sent
// as the JSON body.
func Post[T any](c *Client, template string, sig cache.Signature) *Operation[T] {
	return newOperation[T](c, http.MethodPost, template, sig)
}

func Put[T any](c *Client, template string, sig cache.Signature) *Operation[T] {
	return newOperation[T](c, http.MethodPut, template, sig)
}

func Patch[T any](c *Client, template string, sig cache.Signature) *Operation[T] {
	return newOperation[T](c, http.MethodPatch, template, sig)
}

func Delete[T any](c *Client, template string, sig cache.Signature) *Operation[T] {
	return newOperation[T](c, http.MethodDelete, template, sig)
}

func (o *Operation[T]) Signature() cache.Signature {
	return o.sig
}

func (o *Operation[T]) RequestContext() cache.RequestContext {
	return cache.RequestContext{Method: o.method, PathTemplate: o.template}
}

// CacheBackend returns the backend configured on the client, if any.
func (o *Operation[T]) CacheBackend() cache.Backend {
	if o.client == nil {
		return nil
	}
	return o.client.cfg.CacheBackend
}

// Request builds the HTTP request for call. Path placeholders are filled
// from the bound arguments, "data" becomes the body, "headers" the extra
// headers, and every other argument a query parameter.
func (o *Operation[T]) Request(call cache.Call) (Request, error) {
	bound, err := call.Bind(o.sig)
	if err != nil {
		return Request{}, errors.Wrapf(err, "binding %s", o.sig.Name)
	}
	p, err := RenderPath(o.template, bound)
	if err != nil {
		return Request{}, err
	}
	req := Request{Method: o.method, Path: p, Template: o.template, Body: bound[ParamData]}
	if h, ok := bound[ParamHeaders]; ok && h != nil {
		if req.Headers, err = toHeaders(h); err != nil {
			return Request{}, err
		}
	}
	inPath := PathParams(o.template)
	for name, val := range bound {
		if slices.Contains(inPath, name) || slices.Contains(cache.IgnoredParams, name) || val == nil {
			continue
		}
		if req.Query == nil {
			req.Query = url.Values{}
		}
		addQuery(req.Query, name, val)
	}
	return req, nil
}

func toHeaders(v any) (map[string]string, error) {
	switch h := v.(type) {
	case map[string]string:
		return h, nil
	case http.Header:
		out := make(map[string]string, len(h))
		for k := range h {
			out[k] = h.Get(k)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(h))
		for k, val := range h {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	}
	return nil, errors.Newf("headers must be a map of strings, got %T", v)
}

// addQuery adds val under name, one entry per element for slices.
func addQuery(q url.Values, name string, val any) {
	rv := reflect.ValueOf(val)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			q.Add(name, cache.SerializeValue(rv.Index(i).Interface()))
		}
		return
	}
	q.Add(name, cache.SerializeValue(val))
}

// Invoke sends the request for call and decodes the JSON response into T.
func (o *Operation[T]) Invoke(ctx context.Context, call cache.Call) (T, error) {
	var out T
	req, err := o.Request(call)
	if err != nil {
		return out, err
	}
	if err := o.client.Do(ctx, req, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// InvokeAsync runs Invoke in a goroutine.
func (o *Operation[T]) InvokeAsync(ctx context.Context, call cache.Call) <-chan sys.Result[T] {
	return sys.Go(func() (T, error) {
		return o.Invoke(ctx, call)
	})
}
