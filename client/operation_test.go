package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Pokemon struct {
	ID   int    `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// pokeAPI serves /pokemon/{id} and counts the requests it receives.
func pokeAPI(t *testing.T, cfg Config) (*Client, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/pokemon/")
		if id == "0" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%s,"name":"pokemon-%s"}`, id, id)
	}, cfg)
	return c, &requests
}

var getPokemonSig = cache.NewSignature("get_pokemon", cache.Required("id"))

func TestPathParams(t *testing.T) {
	assert.Equal(t, []string{"owner", "repo"}, PathParams("/repos/{owner}/{repo}"))
	assert.Equal(t, []string{"id"}, PathParams("/a/{id}/b/{id}"))
	assert.Nil(t, PathParams("/pokemon"))
}

func TestRenderPath(t *testing.T) {
	p, err := RenderPath("/pokemon/{id}", map[string]any{"id": 25})
	require.NoError(t, err)
	assert.Equal(t, "/pokemon/25", p)

	p, err = RenderPath("/files/{name}", map[string]any{"name": "a b/c"})
	require.NoError(t, err)
	assert.Equal(t, "/files/a%20b%2Fc", p)

	_, err = RenderPath("/repos/{owner}/{repo}", map[string]any{"owner": "phalt"})
	assert.ErrorContains(t, err, "repo")
}

func TestOperationRequest(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost"})
	sig := cache.NewSignature("update_pokemon",
		cache.Required("id"),
		cache.Optional("tags", nil),
		cache.Optional("limit", 10),
		cache.Optional("data", nil),
		cache.Optional("headers", nil),
	)
	op := Put[Pokemon](c, "/pokemon/{id}", sig)

	req, err := op.Request(cache.Args(7).With("tags", []string{"a", "b"}).
		With("data", map[string]any{"name": "mew"}).
		With("headers", map[string]string{"X-Trace": "1"}))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/pokemon/7", req.Path)
	assert.Equal(t, "/pokemon/{id}", req.Template)
	assert.Equal(t, map[string]any{"name": "mew"}, req.Body)
	assert.Equal(t, map[string]string{"X-Trace": "1"}, req.Headers)
	assert.Equal(t, url.Values{"tags": {"a", "b"}, "limit": {"10"}}, req.Query)
}

func TestOperationRequestErrors(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost"})
	op := Get[Pokemon](c, "/pokemon/{id}", getPokemonSig)

	_, err := op.Request(cache.Call{})
	assert.ErrorContains(t, err, "missing value for path parameter")

	_, err = op.Request(cache.Args(1, 2))
	assert.ErrorContains(t, err, "binding get_pokemon")

	sig := cache.NewSignature("with_headers", cache.Optional("headers", nil))
	_, err = Get[Pokemon](c, "/x", sig).Request(cache.Args(42))
	assert.ErrorContains(t, err, "headers must be a map")
}

func TestOperationDescribesRequest(t *testing.T) {
	backend := cache.NewMemory()
	c := New(Config{BaseURL: "http://localhost", CacheBackend: backend})

	for method, op := range map[string]any{
		http.MethodGet:    Get[Pokemon](c, "/p", getPokemonSig),
		http.MethodPost:   Post[Pokemon](c, "/p", getPokemonSig),
		http.MethodPut:    Put[Pokemon](c, "/p", getPokemonSig),
		http.MethodPatch:  Patch[Pokemon](c, "/p", getPokemonSig),
		http.MethodDelete: Delete[Pokemon](c, "/p", getPokemonSig),
	} {
		rc, ok := cache.ExtractRequestContext(op)
		assert.True(t, ok)
		assert.Equal(t, cache.RequestContext{Method: method, PathTemplate: "/p"}, rc)
		assert.Same(t, backend, cache.ExtractBackend(op))
	}

	// without a configured backend the default one is used
	plain := Get[Pokemon](New(Config{BaseURL: "http://localhost"}), "/p", getPokemonSig)
	assert.Same(t, cache.DefaultBackend(), cache.ExtractBackend(plain))
}

func TestOperationInvoke(t *testing.T) {
	c, requests := pokeAPI(t, Config{})
	op := Get[Pokemon](c, "/pokemon/{id}", getPokemonSig)

	p, err := op.Invoke(context.Background(), cache.Args(25))
	require.NoError(t, err)
	assert.Equal(t, Pokemon{ID: 25, Name: "pokemon-25"}, p)

	_, err = op.Invoke(context.Background(), cache.Args(0))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.EqualValues(t, 2, requests.Load())
}

func TestOperationInvokeAsync(t *testing.T) {
	c, _ := pokeAPI(t, Config{})
	op := Get[*Pokemon](c, "/pokemon/{id}", getPokemonSig)

	res, ok := sys.Await(op.InvokeAsync(context.Background(), cache.Kwargs(map[string]any{"id": 4})))
	require.True(t, ok)
	require.True(t, res.IsOk())
	assert.Equal(t, &Pokemon{ID: 4, Name: "pokemon-4"}, res.Ok)
}

func TestOperationPostBody(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":151,"name":"mew"}`)
	}, Config{})
	sig := cache.NewSignature("create_pokemon", cache.Required("data"))
	op := Post[Pokemon](c, "/pokemon", sig)

	p, err := op.Invoke(context.Background(), cache.Args(map[string]any{"name": "mew"}))
	require.NoError(t, err)
	assert.Equal(t, "mew", p.Name)
	assert.Equal(t, map[string]any{"name": "mew"}, got)
}

func TestMemoizedGetExpires(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemory()
	c, requests := pokeAPI(t, Config{})
	getPokemon := cache.Memoize[Pokemon](Get[Pokemon](c, "/pokemon/{id}", getPokemonSig),
		cache.WithTTL(time.Second), cache.WithBackend(backend))

	first, err := getPokemon(ctx, cache.Kwargs(map[string]any{"id": 25}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, requests.Load())

	second, err := getPokemon(ctx, cache.Kwargs(map[string]any{"id": 25}))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, requests.Load())

	ok, _ := backend.Exists(ctx, "GET:/pokemon/{id}:id=25")
	assert.True(t, ok)

	time.Sleep(1100 * time.Millisecond)
	third, err := getPokemon(ctx, cache.Kwargs(map[string]any{"id": 25}))
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.EqualValues(t, 2, requests.Load())
}

func TestMemoizedGetUsesClientBackend(t *testing.T) {
	ctx := context.Background()
	backend := cache.NewMemory()
	c, requests := pokeAPI(t, Config{CacheBackend: backend})
	getPokemon := cache.Memoize[Pokemon](Get[Pokemon](c, "/pokemon/{id}", getPokemonSig))

	getPokemon(ctx, cache.Args(1))
	getPokemon(ctx, cache.Args(1))
	assert.EqualValues(t, 1, requests.Load())
	assert.Equal(t, 1, backend.Len())

	// failed requests are not cached
	_, err := getPokemon(ctx, cache.Args(0))
	require.Error(t, err)
	_, err = getPokemon(ctx, cache.Args(0))
	require.Error(t, err)
	assert.EqualValues(t, 3, requests.Load())
	assert.Equal(t, 1, backend.Len())
}

func TestMemoizedAsyncGet(t *testing.T) {
	ctx := context.Background()
	c, requests := pokeAPI(t, Config{CacheBackend: cache.NewMemory()})
	getPokemon := cache.MemoizeAsync[Pokemon](Get[Pokemon](c, "/pokemon/{id}", getPokemonSig))

	for i := 0; i < 3; i++ {
		res, ok := sys.Await(getPokemon(ctx, cache.Args(9)))
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Equal(t, "pokemon-9", res.Ok.Name)
	}
	assert.EqualValues(t, 1, requests.Load())
}
