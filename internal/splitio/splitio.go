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

// Package splitio 提供 CRLF 行分隔相关的公共字节常量与裁剪助手
//
// h1 解析器按行消费 socket 数据 (bufio.Reader.ReadSlice) 再用这里的
// 助手裁掉行尾分隔符
package splitio

import "bytes"

var (
	CharCRLF = []byte("\r\n")
	CharCR   = []byte("\r")
	CharLF   = []byte("\n")
)

// TrimCRLF 裁掉行尾的 \r\n 或单独的 \n, 结果为空时返回 nil
func TrimCRLF(line []byte) []byte {
	if bytes.HasSuffix(line, CharCRLF) {
		line = line[:len(line)-len(CharCRLF)]
	} else {
		line = bytes.TrimSuffix(line, CharLF)
	}
	if len(line) == 0 {
		return nil
	}
	return line
}
