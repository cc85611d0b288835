package remux

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogBufferEmpty(t *testing.T) {
	var b LogBuffer
	require.Nil(t, b.Read(10))
}

func TestLogBufferNewestFirst(t *testing.T) {
	var b LogBuffer
	b.Append("first")
	b.Append("second")
	b.Append("third")

	require.Equal(t, []string{"third", "second", "first"}, b.Read(0))
	require.Equal(t, []string{"third", "second"}, b.Read(2))
	require.Equal(t, []string{"third"}, b.Read(1))
}

func TestLogBufferWrapsAroundCapacity(t *testing.T) {
	b := NewLogBuffer(8)
	for i := 0; i < 20; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	out := b.Read(0)
	require.Len(t, out, 8)
	require.Equal(t, "line-19", out[0])
	require.Equal(t, "line-12", out[7])
}

func TestLogBufferZeroValueDefaultCapacity(t *testing.T) {
	var b LogBuffer
	for i := 0; i < 620; i++ {
		b.Append(fmt.Sprintf("line-%d", i))
	}

	out := b.Read(0)
	require.Len(t, out, 500)
	require.Equal(t, "line-619", out[0])
	require.Equal(t, "line-120", out[499])
}

func TestLogBufferClampsRequest(t *testing.T) {
	var b LogBuffer
	b.Append("only")

	require.Equal(t, []string{"only"}, b.Read(9999))
	require.Equal(t, []string{"only"}, b.Read(-5))
}
