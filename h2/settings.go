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

package h2

import "encoding/binary"

// Settings identifiers, per RFC 7540 §6.5.2.
const (
	settingHeaderTableSize      uint16 = 0x1
	settingEnablePush           uint16 = 0x2
	settingMaxConcurrentStreams uint16 = 0x3
	settingInitialWindowSize    uint16 = 0x4
	settingMaxFrameSize         uint16 = 0x5
	settingMaxHeaderListSize    uint16 = 0x6
)

// Settings holds the negotiable connection parameters this engine
// advertises to, and accepts from, peers. Defaults mirror the values
// grounded in SPEC_FULL.md §A and the teacher's own
// MaxConcurrentStreams=100 recommendation from RFC 7540.
type Settings struct {
	HeaderTableSize      uint32 `config:"headerTableSize"`
	MaxConcurrentStreams uint32 `config:"maxConcurrentStreams"`
	InitialWindowSize    uint32 `config:"initialWindowSize"`
	MaxFrameSize         uint32 `config:"maxFrameSize"`
	MaxHeaderListSize    uint32 `config:"maxHeaderListSize"`
}

// DefaultSettings are the values this server advertises in its initial
// SETTINGS frame absent any configuration override.
var DefaultSettings = Settings{
	HeaderTableSize:      4096,
	MaxConcurrentStreams: 100,
	InitialWindowSize:    1<<16 - 1, // 65535, the RFC 7540 default
	MaxFrameSize:         1 << 14,
	MaxHeaderListSize:    1 << 20,
}

// encodeSettingsPayload renders s as a SETTINGS frame payload (each entry
// is a 2-byte identifier + 4-byte value).
func encodeSettingsPayload(s Settings) []byte {
	entries := []struct {
		id  uint16
		val uint32
	}{
		{settingHeaderTableSize, s.HeaderTableSize},
		{settingEnablePush, 0}, // server push unsupported; always advertise disabled
		{settingMaxConcurrentStreams, s.MaxConcurrentStreams},
		{settingInitialWindowSize, s.InitialWindowSize},
		{settingMaxFrameSize, s.MaxFrameSize},
		{settingMaxHeaderListSize, s.MaxHeaderListSize},
	}
	buf := make([]byte, 6*len(entries))
	for i, e := range entries {
		binary.BigEndian.PutUint16(buf[i*6:], e.id)
		binary.BigEndian.PutUint32(buf[i*6+2:], e.val)
	}
	return buf
}

// decodeSettingsPayload parses a peer's SETTINGS frame payload, applying
// recognized parameters onto base and ignoring unknown ones per RFC 7540
// §6.5.2 ("An endpoint that receives a SETTINGS frame with any unknown
// or unsupported identifier MUST ignore that setting"). The returned
// errorCode distinguishes a flow-control violation (oversized
// SETTINGS_INITIAL_WINDOW_SIZE) from the other, protocol-level failures.
func decodeSettingsPayload(base Settings, payload []byte) (Settings, errorCode, error) {
	out := base
	for i := 0; i+6 <= len(payload); i += 6 {
		id := binary.BigEndian.Uint16(payload[i:])
		val := binary.BigEndian.Uint32(payload[i+2:])
		switch id {
		case settingHeaderTableSize:
			out.HeaderTableSize = val
		case settingEnablePush:
			if val > 1 {
				return base, errCodeProtocolError, newError("invalid ENABLE_PUSH value %d", val)
			}
		case settingMaxConcurrentStreams:
			out.MaxConcurrentStreams = val
		case settingInitialWindowSize:
			if val > maxWindowSize {
				return base, errCodeFlowControlError, newError("initial window size %d exceeds maximum", val)
			}
			out.InitialWindowSize = val
		case settingMaxFrameSize:
			if val < defaultMaxFrameSize || val > 0xffffff {
				return base, errCodeProtocolError, newError("invalid max frame size %d", val)
			}
			out.MaxFrameSize = val
		case settingMaxHeaderListSize:
			out.MaxHeaderListSize = val
		}
	}
	return out, errCodeNoError, nil
}
