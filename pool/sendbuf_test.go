// File: pool/sendbuf_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/uringws/pool"
)

func TestSendBufFrontAdvance(t *testing.T) {
	sb := pool.NewSendBuf()
	_, ok := sb.Front()
	require.False(t, ok)

	sb.PushBack([]byte("hello"))
	sb.PushBack([]byte("world"))
	require.Equal(t, 2, sb.Len())
	require.Equal(t, 10, sb.Buffered())

	front, ok := sb.Front()
	require.True(t, ok)
	require.Equal(t, []byte("hello"), front)

	sb.Advance(2)
	front, _ = sb.Front()
	require.Equal(t, []byte("llo"), front)
	require.Equal(t, 8, sb.Buffered())

	sb.Advance(3)
	front, _ = sb.Front()
	require.Equal(t, []byte("world"), front, "evicted chunk must expose the next one")
	require.Equal(t, 1, sb.Len())

	sb.Advance(5)
	_, ok = sb.Front()
	require.False(t, ok)
	require.Zero(t, sb.Buffered())
}

func TestSendBufPushFrontRequeue(t *testing.T) {
	sb := pool.NewSendBuf()
	sb.PushBack([]byte("c"))
	sb.PushFront([]byte("b"))
	sb.PushFront([]byte("a"))
	sb.PushBack([]byte("d"))

	var got bytes.Buffer
	for {
		front, ok := sb.Front()
		if !ok {
			break
		}
		got.Write(front)
		sb.Advance(len(front))
	}
	require.Equal(t, "abcd", got.String())
}

func TestSendBufIgnoresEmptyChunks(t *testing.T) {
	sb := pool.NewSendBuf()
	sb.PushBack(nil)
	sb.PushFront([]byte{})
	require.Zero(t, sb.Len())
	_, ok := sb.Front()
	require.False(t, ok)
}

func TestSendBufContractViolationsPanic(t *testing.T) {
	sb := pool.NewSendBuf()
	require.Panics(t, func() { sb.Advance(1) })

	sb.PushBack([]byte("abc"))
	require.Panics(t, func() { sb.Advance(4) })
	require.Panics(t, func() { sb.Advance(-1) })
	require.Panics(t, func() { sb.Discard(4) })
}

func TestSendBufTotalBytesConserved(t *testing.T) {
	sb := pool.NewSendBuf()
	var want bytes.Buffer
	for i := 1; i <= 20; i++ {
		b := bytes.Repeat([]byte{byte(i)}, i*3)
		want.Write(b)
		sb.PushBack(b)
	}
	total := want.Len()
	require.Equal(t, total, sb.Buffered())

	var got bytes.Buffer
	step := 1
	for sb.Buffered() > 0 {
		front, _ := sb.Front()
		n := step % (len(front) + 1)
		if n == 0 {
			n = len(front)
		}
		got.Write(front[:n])
		sb.Advance(n)
		step += 7
	}
	require.Equal(t, want.Bytes(), got.Bytes())
}

func TestSendBufVectorsAndDiscard(t *testing.T) {
	sb := pool.NewSendBuf()
	sb.PushBack([]byte("bb"))
	sb.PushBack([]byte("ccc"))
	sb.PushFront([]byte("a"))

	require.Equal(t, [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}, sb.Vectors(0))
	require.Equal(t, [][]byte{[]byte("a"), []byte("bb")}, sb.Vectors(2))

	sb.Discard(4)
	require.Equal(t, [][]byte{[]byte("cc")}, sb.Vectors(0))
	require.Equal(t, 2, sb.Buffered())

	sb.Reset()
	require.Zero(t, sb.Len())
	require.Zero(t, sb.Buffered())
}
