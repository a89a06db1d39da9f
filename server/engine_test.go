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

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	fasthttp2 "github.com/dgrr/http2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicklesworthstone/fastgo/dependency"
	"github.com/dicklesworthstone/fastgo/httpmsg"
	"github.com/dicklesworthstone/fastgo/pipeline"
	"github.com/dicklesworthstone/fastgo/reqctx"
	"github.com/dicklesworthstone/fastgo/router"
)

func testPipelineConfig(t *testing.T) *pipeline.Config {
	t.Helper()
	rt := router.New()
	_, err := rt.Register(httpmsg.MethodGet, "/items/{id:int}", pipeline.Next(
		func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
			m, ok := pipeline.MatchFrom(ctx)
			require.True(t, ok)
			if _, ok := m.Int("id"); !ok {
				t.Error("id param not bound as int")
			}
			return pipeline.ToResponse("OK")
		}))
	require.NoError(t, err)
	_, err = rt.Register(httpmsg.MethodGet, "/", pipeline.Next(
		func(ctx *reqctx.Context, req *httpmsg.Request) (*httpmsg.Response, error) {
			return pipeline.ToResponse("hello")
		}))
	require.NoError(t, err)
	return &pipeline.Config{Router: rt, Registry: dependency.NewRegistry()}
}

func startEngine(t *testing.T, opts ...EngineOption) (*Engine, string) {
	t.Helper()
	eng := NewEngine(testPipelineConfig(t), opts...)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.Serve(l) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("Serve did not exit after Shutdown")
		}
	})
	return eng, l.Addr().String()
}

func TestEngineServesH1Request(t *testing.T) {
	_, addr := startEngine(t)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	_, err = io.WriteString(nc, "GET /items/42 HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	raw, err := io.ReadAll(nc)
	require.NoError(t, err)
	resp := string(raw)
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), "got: %q", resp)
	assert.Contains(t, strings.ToLower(resp), "content-length: 2\r\n")
	assert.True(t, strings.HasSuffix(resp, "OK"), "got: %q", resp)
}

func TestEngineRejectsConflictingContentLength(t *testing.T) {
	_, addr := startEngine(t)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()

	_, err = io.WriteString(nc, "POST /items/42 HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\nhello")
	require.NoError(t, err)

	raw, err := io.ReadAll(nc) // the server closes after the error response
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "HTTP/1.1 400 "), "got: %q", raw)
}

func TestEngineKeepAliveServesSequentialRequests(t *testing.T) {
	_, addr := startEngine(t)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()
	br := bufio.NewReader(nc)

	for i := 0; i < 2; i++ {
		_, err = io.WriteString(nc, "GET /items/7 HTTP/1.1\r\nHost: x\r\n\r\n")
		require.NoError(t, err)

		status, err := br.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, status, "200 OK")

		var bodyLen int
		for {
			line, err := br.ReadString('\n')
			require.NoError(t, err)
			lower := strings.ToLower(line)
			if v, ok := strings.CutPrefix(lower, "content-length:"); ok {
				bodyLen, err = strconv.Atoi(strings.TrimSpace(v))
				require.NoError(t, err)
			}
			if line == "\r\n" {
				break
			}
		}
		body := make([]byte, bodyLen)
		_, err = io.ReadFull(br, body)
		require.NoError(t, err)
		assert.Equal(t, "OK", string(body))
	}
}

const h2FrameHeaderLen = 9 // mirrored from h2 to keep the test self-contained

func readH2Frame(t *testing.T, r *bufio.Reader) (typ, flags uint8, streamID uint32, payload []byte) {
	t.Helper()
	hdr := make([]byte, h2FrameHeaderLen)
	_, err := io.ReadFull(r, hdr)
	require.NoError(t, err)
	length := uint32(hdr[0])<<16 | uint32(hdr[1])<<8 | uint32(hdr[2])
	typ = hdr[3]
	flags = hdr[4]
	streamID = binary.BigEndian.Uint32(hdr[5:9]) & 0x7fffffff
	payload = make([]byte, length)
	_, err = io.ReadFull(r, payload)
	require.NoError(t, err)
	return typ, flags, streamID, payload
}

func writeH2Frame(t *testing.T, w io.Writer, typ, flags uint8, streamID uint32, payload []byte) {
	t.Helper()
	hdr := make([]byte, h2FrameHeaderLen)
	hdr[0] = byte(len(payload) >> 16)
	hdr[1] = byte(len(payload) >> 8)
	hdr[2] = byte(len(payload))
	hdr[3] = typ
	hdr[4] = flags
	binary.BigEndian.PutUint32(hdr[5:9], streamID)
	_, err := w.Write(append(hdr, payload...))
	require.NoError(t, err)
}

// S3-style: prior-knowledge HTTP/2 over cleartext. The engine must sniff
// the preface, answer with SETTINGS, ACK the client's SETTINGS, and
// serve the request on stream 1.
func TestEnginePriorKnowledgeH2(t *testing.T) {
	_, addr := startEngine(t)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()
	br := bufio.NewReader(nc)

	_, err = nc.Write(h2Preface)
	require.NoError(t, err)
	writeH2Frame(t, nc, 0x4, 0, 0, nil) // empty client SETTINGS

	typ, flags, _, _ := readH2Frame(t, br)
	require.EqualValues(t, 0x4, typ, "server must lead with SETTINGS")
	require.Zero(t, flags&0x1, "server's first SETTINGS must not be an ACK")

	hp := fasthttp2.AcquireHPACK()
	defer fasthttp2.ReleaseHPACK(hp)
	var block []byte
	field := fasthttp2.HeaderField{}
	for _, kv := range [][2]string{
		{":method", "GET"}, {":scheme", "http"}, {":path", "/"}, {":authority", "x"},
	} {
		field.SetKeyBytes([]byte(kv[0]))
		field.SetValue(kv[1])
		block = hp.AppendHeader(block, &field, false)
	}
	writeH2Frame(t, nc, 0x1, 0x4|0x1, 1, block) // HEADERS END_HEADERS|END_STREAM

	var body bytes.Buffer
	sawSettingsAck := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		typ, flags, streamID, payload := readH2Frame(t, br)
		switch typ {
		case 0x4:
			if flags&0x1 != 0 {
				sawSettingsAck = true
			}
		case 0x0:
			if streamID == 1 {
				body.Write(payload)
				if flags&0x1 != 0 {
					require.True(t, sawSettingsAck, "SETTINGS ACK must precede stream DATA completion")
					assert.Equal(t, "hello", body.String())
					return
				}
			}
		}
	}
	t.Fatal("never received complete response on stream 1")
}

// §4.F: an h2c upgrade gets 101 Switching Protocols, then the connection
// continues as HTTP/2 starting at the client preface.
func TestEngineH2CUpgrade(t *testing.T) {
	_, addr := startEngine(t)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()
	br := bufio.NewReader(nc)

	_, err = io.WriteString(nc,
		"GET / HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: h2c\r\nHTTP2-Settings: AAMAAABkAAQAAP__\r\n\r\n")
	require.NoError(t, err)

	status, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "101 Switching Protocols")
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	_, err = nc.Write(h2Preface)
	require.NoError(t, err)
	writeH2Frame(t, nc, 0x4, 0, 0, nil)

	typ, _, _, _ := readH2Frame(t, br)
	assert.EqualValues(t, 0x4, typ, "post-upgrade bytes must be an HTTP/2 SETTINGS frame")
}

func TestEngineLifecycleEvents(t *testing.T) {
	eng := NewEngine(testPipelineConfig(t))
	q := eng.Events().Subscribe(8)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- eng.Serve(l) }()

	ev, ok := q.PopTimeout(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, EventListening, ev)
	assert.Equal(t, "listening", eng.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Shutdown(ctx))

	ev, ok = q.PopTimeout(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, EventDraining, ev)
	ev, ok = q.PopTimeout(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, EventClosed, ev)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
