package chat

import (
	"bytes"
	"sync"
)

// bufferPool reuses request body buffers across chat turns
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns buf to the pool unless it grew past 16KB
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 16 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}
