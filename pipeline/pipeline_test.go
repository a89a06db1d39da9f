// Copyright 2025 The fastgo Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicklesworthstone/fastgo/dependency"
	"github.com/dicklesworthstone/fastgo/headers"
	"github.com/dicklesworthstone/fastgo/herror"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/reqctx"
	"github.com/dicklesworthstone/fastgo/router"
)

func newReq(method httpmsg.Method, path string) *httpmsg.Request {
	return &httpmsg.Request{Method: method, Path: path, Header: headers.New()}
}

func okHandler(body string) Next {
	return func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		return ToResponse(body)
	}
}

func TestDispatchMatchRunsHandler(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/items/{id:int}", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		m, ok := MatchFrom(ctx)
		require.True(t, ok)
		id, ok := m.Int("id")
		require.True(t, ok)
		assert.Equal(t, int64(42), id)
		resp, _ := ToResponse("OK")
		return resp, nil
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/items/42"), cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDispatchNotFound(t *testing.T) {
	rt := router.New()
	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/nope"), cfg)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatchMethodNotAllowedSetsAllowHeader(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/items", okHandler("ok"))
	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}

	resp := Dispatch(ctx, newReq(httpmsg.MethodPost, "/items"), cfg)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	allow, ok := resp.Header.Get("Allow")
	require.True(t, ok)
	assert.Contains(t, allow, "GET")
	assert.Contains(t, allow, "HEAD")
}

func TestMiddlewareShortCircuits(t *testing.T) {
	rt := router.New()
	called := false
	rt.Register(httpmsg.MethodGet, "/items", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		called = true
		resp, _ := ToResponse("unreachable")
		return resp, nil
	}))

	chain := NewChain(func(ctx *reqctx.Context, req *httpmsg.Request, next Next) (*httpmsg.Response, error) {
		resp := httpmsg.NewResponse()
		resp.StatusCode = http.StatusForbidden
		resp.BodyLen = 0
		return resp, nil
	})

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Chain: chain, Registry: dependency.NewRegistry()}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/items"), cfg)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, called)
}

func TestRouteDependencyFailureShortCircuitsHandler(t *testing.T) {
	rt := router.New()
	routeID, err := rt.Register(httpmsg.MethodGet, "/secure", okHandler("secret"))
	require.NoError(t, err)

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{
		Router:   rt,
		Registry: dependency.NewRegistry(),
		RouteDeps: map[int][]DependencyFunc{
			routeID: {func(ctx *reqctx.Context, res *dependency.Resolution) error {
				return herror.New(herror.KindUnauthorized, "no credentials")
			}},
		},
	}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/secure"), cfg)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_, hasAuthHeader := resp.Header.Get("WWW-Authenticate")
	assert.True(t, hasAuthHeader)
}

func TestDependencyResolvedThroughHandler(t *testing.T) {
	type userID int
	registry := dependency.NewRegistry()
	dependency.Register(registry, func(ctx *reqctx.Context, res *dependency.Resolution) (userID, error) {
		return 7, nil
	})

	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/me", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		res, ok := ResolutionFrom(ctx)
		require.True(t, ok)
		id, err := dependency.Resolve[userID](ctx, res)
		require.NoError(t, err)
		assert.Equal(t, userID(7), id)
		resp, _ := ToResponse("ok")
		return resp, nil
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: registry}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/me"), cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelledRequestMapsTo499(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/slow", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		return nil, reqctx.CancelledError
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/slow"), cfg)
	assert.Equal(t, 499, resp.StatusCode)
}

func TestCleanupRunsAfterDispatch(t *testing.T) {
	rt := router.New()
	ctx := reqctx.New(context.Background(), "")
	ran := false
	ctx.Defer("close", func() error {
		ran = true
		return nil
	})
	rt.Register(httpmsg.MethodGet, "/x", okHandler("ok"))
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}

	Dispatch(ctx, newReq(httpmsg.MethodGet, "/x"), cfg)
	assert.True(t, ran)
}

func TestBodyLimitEnforcedDuringRead(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodPost, "/upload", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		if _, err := io.ReadAll(req.Body); err != nil {
			return nil, err
		}
		return ToResponse("stored")
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry(), BodyLimit: 4}

	req := newReq(httpmsg.MethodPost, "/upload")
	req.Body = httpmsg.Body{Reader: strings.NewReader("way past the limit"), Len: -1}

	resp := Dispatch(ctx, req, cfg)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDeclaredBodyLengthOverLimitShortCircuits(t *testing.T) {
	rt := router.New()
	called := false
	rt.Register(httpmsg.MethodPost, "/upload", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		called = true
		return ToResponse("stored")
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry(), BodyLimit: 8}

	req := newReq(httpmsg.MethodPost, "/upload")
	req.Body = httpmsg.Body{Reader: strings.NewReader("0123456789abcdef"), Len: 16}

	resp := Dispatch(ctx, req, cfg)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, called)
}

func TestRequestBodyLimitOverrideWins(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodPost, "/upload", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		return ToResponse(string(b))
	}))

	ctx := reqctx.New(context.Background(), "")
	ctx.SetBodyLimit(reqctx.NoBodyLimit())
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry(), BodyLimit: 4}

	req := newReq(httpmsg.MethodPost, "/upload")
	req.Body = httpmsg.Body{Reader: strings.NewReader("larger than four"), Len: -1}

	resp := Dispatch(ctx, req, cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDependencyCycleMapsToInternalError(t *testing.T) {
	type depA string
	type depB string

	registry := dependency.NewRegistry()
	dependency.Register(registry, func(ctx *reqctx.Context, res *dependency.Resolution) (depA, error) {
		b, err := dependency.Resolve[depB](ctx, res)
		return depA(b), err
	})
	dependency.Register(registry, func(ctx *reqctx.Context, res *dependency.Resolution) (depB, error) {
		a, err := dependency.Resolve[depA](ctx, res)
		return depB(a), err
	})

	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/cyclic", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		res, _ := ResolutionFrom(ctx)
		_, err := dependency.Resolve[depA](ctx, res)
		require.ErrorIs(t, err, dependency.ErrCycle)
		return nil, err
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: registry}

	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/cyclic"), cfg)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRoutePatternLabelsMatchedRoute(t *testing.T) {
	rt := router.New()
	rt.Register(httpmsg.MethodGet, "/items/{id:int}", Next(func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
		assert.Equal(t, "/items/{id:int}", RoutePattern(ctx))
		return ToResponse("ok")
	}))

	ctx := reqctx.New(context.Background(), "")
	cfg := &Config{Router: rt, Registry: dependency.NewRegistry()}
	resp := Dispatch(ctx, newReq(httpmsg.MethodGet, "/items/42"), cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestToResponsePlainErrorMapsInternal(t *testing.T) {
	resp := ErrorToResponse(assertErr{})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
