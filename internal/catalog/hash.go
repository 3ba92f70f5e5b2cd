// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const hashChunkSize = 64 * 1024

// MovieHash 目录服务的文件指纹：文件大小 + 首尾各 64KB 按
// 小端 uint64 累加。文件小于 128KB 时不可用。
func MovieHash(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	size = info.Size()
	if size < 2*hashChunkSize {
		return "", 0, fmt.Errorf("moviehash: file %s too small (%d bytes)", path, size)
	}

	sum := uint64(size)
	add := func(offset int64) error {
		buf := make([]byte, hashChunkSize)
		if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return err
		}
		for i := 0; i < hashChunkSize; i += 8 {
			sum += binary.LittleEndian.Uint64(buf[i : i+8])
		}
		return nil
	}
	if err := add(0); err != nil {
		return "", 0, err
	}
	if err := add(size - hashChunkSize); err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%016x", sum), size, nil
}
