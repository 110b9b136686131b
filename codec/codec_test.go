package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twlk9/spillmap/keys"
)

type document struct {
	ID        string
	Timestamp int64
	Tags      []string
}

func TestPairRoundTrip(t *testing.T) {
	c := Pair(String(), Msgpack[document]())
	assert.Equal(t, "pair(string,msgpack(codec.document))", c.Name())

	in := keys.Entry[string, document]{
		Key:   "row-17",
		Value: document{ID: "a", Timestamp: 42, Tags: []string{"x", "y"}},
	}
	prefix := []byte("junk")
	b, err := c.Append(prefix, in)
	require.NoError(t, err)
	assert.Equal(t, "junk", string(b[:4]), "Append must not clobber dst")

	out, err := c.Decode(b[4:])
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestIntegerCodecs(t *testing.T) {
	b, err := Int64().Append(nil, -7)
	require.NoError(t, err)
	v, err := Int64().Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), v)

	_, err = Int64().Decode(b[:3])
	assert.True(t, errors.Is(err, ErrShortBuffer))

	b, err = Uint64().Append(nil, 1<<40)
	require.NoError(t, err)
	u, err := Uint64().Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u)
}

func TestBytesDecodeDoesNotAlias(t *testing.T) {
	src := []byte("abc")
	out, err := Bytes().Decode(src)
	require.NoError(t, err)
	src[0] = 'z'
	assert.Equal(t, "abc", string(out))
}

func TestPairTruncated(t *testing.T) {
	c := Pair(String(), String())
	_, err := c.Decode([]byte{0x05, 'a'})
	assert.True(t, errors.Is(err, keys.ErrCorruption))
}
