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

// Package extract provides the request-data extractors handlers bind
// their parameters to: path params, query strings, headers, JSON bodies,
// cookies, and bearer tokens. Extractors read from a Source rather than
// httpmsg.Request directly so they compose with router.Match without an
// import cycle.
package extract

import (
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/dicklesworthstone/fastgo/herror"
	"github.com/dicklesworthstone/fastgo/httpmsg"
)

// Source bundles everything an extractor needs: the parsed request and
// its bound route parameters. pipeline constructs one per request.
type Source struct {
	Request *httpmsg.Request
	Params  ParamGetter
}

// ParamGetter is the subset of router.Match extractors depend on, kept as
// an interface so extract never imports router (router already imports
// httpmsg; extract must not create a cycle back through pipeline).
type ParamGetter interface {
	String(name string) (string, bool)
}

// Path extracts a single string path parameter, erroring with
// herror.KindNotFound if it's absent (a handler declaring a path param
// that didn't bind indicates a route/handler mismatch, not a client
// error, but NotFound is the closest honest external signal).
func Path(src *Source, name string) (string, error) {
	v, ok := src.Params.String(name)
	if !ok {
		return "", herror.New(herror.KindNotFound, "missing path parameter "+name)
	}
	return v, nil
}

// PathAs extracts a path parameter and coerces it to T via cast, for
// handlers that declared a plain {name} segment but want an int/bool/etc.
func PathAs[T any](src *Source, name string) (T, error) {
	var zero T
	raw, err := Path(src, name)
	if err != nil {
		return zero, err
	}
	return castTo[T](raw)
}

// Query extracts a single query string value. ok is false if the key is
// absent; callers decide whether that's an error.
func Query(src *Source, key string) (string, bool, error) {
	values, err := src.Request.Query()
	if err != nil {
		return "", false, herror.Wrap(herror.KindBadRequest, err, "parse query string")
	}
	if !values.Has(key) {
		return "", false, nil
	}
	return values.Get(key), true, nil
}

// QueryAs extracts a query value and coerces it to T.
func QueryAs[T any](src *Source, key string) (T, bool, error) {
	var zero T
	raw, ok, err := Query(src, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	v, err := castTo[T](raw)
	return v, true, err
}

// QueryStruct decodes the full query string into dst (a pointer to a
// struct), using mapstructure's weakly-typed decoding so "1"/"true"
// coerce into int/bool fields the way a single-value QueryAs would.
func QueryStruct(src *Source, dst any) error {
	values, err := src.Request.Query()
	if err != nil {
		return herror.Wrap(herror.KindBadRequest, err, "parse query string")
	}
	flat := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			flat[k] = v[0]
		} else {
			flat[k] = v
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           dst,
		TagName:          "query",
	})
	if err != nil {
		return errors.Wrap(err, "build query decoder")
	}
	if err := dec.Decode(flat); err != nil {
		return herror.Wrap(herror.KindBadRequest, err, "decode query struct")
	}
	return nil
}

// Header extracts a single request header value.
func Header(src *Source, name string) (string, bool) {
	return src.Request.Header.Get(name)
}

// HeaderAs extracts a header value and coerces it to T.
func HeaderAs[T any](src *Source, name string) (T, bool, error) {
	var zero T
	raw, ok := Header(src, name)
	if !ok {
		return zero, false, nil
	}
	v, err := castTo[T](raw)
	return v, true, err
}

const maxDefaultJSONBody = 2 << 20 // 2MiB, overridable via reqctx.BodyLimit

// JSON decodes the request body as JSON into dst (a pointer). limit, if
// positive, bounds the number of bytes read before decoding fails rather
// than continuing to buffer a hostile client's oversized payload. A
// Content-Type that is present but not JSON fails with 415 before any
// body byte is read.
func JSON(src *Source, dst any, limit int64) error {
	if ct, ok := src.Request.Header.Get("Content-Type"); ok && !isJSONMediaType(ct) {
		return herror.New(herror.KindUnsupportedMedia, "expected a JSON content type, got "+ct)
	}
	if limit <= 0 {
		limit = maxDefaultJSONBody
	}
	r := io.LimitReader(src.Request.Body, limit+1)
	b, err := io.ReadAll(r)
	if err != nil {
		return herror.Wrap(herror.KindBadRequest, err, "read request body")
	}
	if int64(len(b)) > limit {
		return herror.New(herror.KindPayloadTooLarge, "request body exceeds limit")
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return herror.Wrap(herror.KindUnprocessable, err, "decode json body")
	}
	return nil
}

// isJSONMediaType accepts application/json and any +json structured
// suffix (application/problem+json, application/ld+json, ...).
func isJSONMediaType(ct string) bool {
	mt := strings.TrimSpace(ct)
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	mt = strings.ToLower(mt)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Cookie extracts a single cookie value from the Cookie header.
func Cookie(src *Source, name string) (string, bool) {
	raw, ok := src.Request.Header.Get("Cookie")
	if !ok {
		return "", false
	}
	for _, part := range strings.Split(raw, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1], true
		}
	}
	return "", false
}

// BearerAuth extracts the token from an `Authorization: Bearer <token>`
// header, erroring with herror.KindUnauthorized if absent or malformed.
func BearerAuth(src *Source) (string, error) {
	raw, ok := src.Request.Header.Get("Authorization")
	if !ok {
		return "", herror.New(herror.KindUnauthorized, "missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return "", herror.New(herror.KindUnauthorized, "Authorization header is not a Bearer token")
	}
	token := strings.TrimSpace(raw[len(prefix):])
	if token == "" {
		return "", herror.New(herror.KindUnauthorized, "empty bearer token")
	}
	return token, nil
}

// MultipartPart describes one part of a multipart/form-data body.
type MultipartPart struct {
	Name        string
	Filename    string
	ContentType string
	Data        io.Reader
}

// MultipartReader is the collaborator interface a multipart spooler
// implementation satisfies. No concrete implementation ships in this
// package (spooling-to-disk vs in-memory is a deployment decision, and
// the original spec explicitly scopes a full multipart implementation
// out); extract only defines the contract so pipeline can compose
// against it once a concrete spooler is wired in.
type MultipartReader interface {
	NextPart() (*MultipartPart, error)
}

func castTo[T any](raw string) (T, error) {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(raw).(T), nil
	case int:
		v, err := cast.ToIntE(raw)
		return any(v).(T), wrapCast(err)
	case int64:
		v, err := cast.ToInt64E(raw)
		return any(v).(T), wrapCast(err)
	case float64:
		v, err := cast.ToFloat64E(raw)
		return any(v).(T), wrapCast(err)
	case bool:
		v, err := cast.ToBoolE(raw)
		return any(v).(T), wrapCast(err)
	default:
		return zero, herror.New(herror.KindInternal, "unsupported extract target type")
	}
}

func wrapCast(err error) error {
	if err == nil {
		return nil
	}
	return herror.Wrap(herror.KindBadRequest, err, "coerce value")
}
