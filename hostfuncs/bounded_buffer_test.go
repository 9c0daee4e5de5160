package hostfuncs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedBuffer_Write(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		writes    []string
		want      string
		truncated bool
	}{
		{name: "within limit", limit: 100, writes: []string{"hello"}, want: "hello"},
		{name: "exact limit", limit: 5, writes: []string{"hello"}, want: "hello"},
		{name: "single write over limit", limit: 10, writes: []string{"hello world"}, want: "hello worl", truncated: true},
		{name: "second write over limit", limit: 8, writes: []string{"hello", " world"}, want: "hello wo", truncated: true},
		{name: "write after full", limit: 5, writes: []string{"hello", "!"}, want: "hello", truncated: true},
		{name: "zero limit", limit: 0, writes: []string{"x"}, want: "", truncated: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBoundedBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := buf.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, buf.String())
			assert.Equal(t, tt.truncated, buf.Truncated)
			assert.Equal(t, len(tt.want), buf.Len())
		})
	}
}

func TestBoundedBuffer_Reset(t *testing.T) {
	buf := NewBoundedBuffer(3)
	_, _ = buf.Write([]byte("abcdef"))
	require.True(t, buf.Truncated)

	buf.Reset()
	assert.False(t, buf.Truncated)
	assert.Empty(t, buf.Bytes())

	_, _ = buf.Write([]byte("ab"))
	assert.Equal(t, "ab", buf.String())
	assert.False(t, buf.Truncated)
}
