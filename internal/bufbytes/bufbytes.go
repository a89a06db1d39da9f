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

// Package bufbytes 提供一个带上限的追加缓冲
//
// h2 用它累积 HEADERS/CONTINUATION 的 header block 分片
// 超过上限立即报错 避免恶意客户端用无限 CONTINUATION 撑爆内存
package bufbytes

import "github.com/pkg/errors"

// ErrOverflow 写入超过缓冲上限
var ErrOverflow = errors.New("bufbytes: buffer limit exceeded")

type Bytes struct {
	limit int
	buf   []byte
}

// New 创建上限为 limit 字节的缓冲 limit <= 0 表示不设上限
func New(limit int) *Bytes {
	return &Bytes{limit: limit}
}

// Write 追加 p 超出上限返回 ErrOverflow 且不写入任何字节
func (b *Bytes) Write(p []byte) error {
	if b.limit > 0 && len(b.buf)+len(p) > b.limit {
		return ErrOverflow
	}
	b.buf = append(b.buf, p...)
	return nil
}

func (b *Bytes) Len() int {
	return len(b.buf)
}

// Bytes 返回内部切片 调用方不得在下一次 Write/Reset 后继续持有
func (b *Bytes) Bytes() []byte {
	return b.buf
}

func (b *Bytes) Text() string {
	return string(b.buf)
}

// Clone 返回数据副本
func (b *Bytes) Clone() []byte {
	if b.buf == nil {
		return nil
	}
	return append([]byte{}, b.buf...)
}

func (b *Bytes) Reset() {
	b.buf = b.buf[:0]
}
