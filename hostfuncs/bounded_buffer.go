package hostfuncs

import (
	"bytes"
)

// DefaultMaxOutputSize caps captured stdout and stderr of exec_command (10MB).
const DefaultMaxOutputSize = 10 * 1024 * 1024

// DefaultMaxRequestSize caps a single tool request payload (1MB).
const DefaultMaxRequestSize = 1 * 1024 * 1024

// BoundedBuffer is an io.Writer that keeps at most limit bytes and
// records whether anything was dropped.
type BoundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	Truncated bool
}

// NewBoundedBuffer returns a BoundedBuffer holding up to limit bytes.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{limit: limit}
}

// Write keeps what fits and discards the rest. It always reports len(p)
// so exec.Cmd's copy loop does not fail with a short write.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			b.Truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.Truncated = true
		if _, err := b.buffer.Write(p[:remaining]); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return b.buffer.Write(p)
}

func (b *BoundedBuffer) String() string { return b.buffer.String() }

func (b *BoundedBuffer) Bytes() []byte { return b.buffer.Bytes() }

func (b *BoundedBuffer) Len() int { return b.buffer.Len() }

// Reset empties the buffer and clears Truncated.
func (b *BoundedBuffer) Reset() {
	b.buffer.Reset()
	b.Truncated = false
}
