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

package common

const (
	// App 应用程序名称
	App = "fastgo"

	// Version 应用程序版本
	Version = "v0.0.1"

	// ReadWriteBlockSize 单次从连接读取的默认块大小
	//
	// H1/H2 的帧与请求行解析都按块读取 Socket 再喂给对应状态机
	// 块太大会在高并发连接下浪费内存 块太小则增加系统调用次数
	ReadWriteBlockSize = 4096
)
