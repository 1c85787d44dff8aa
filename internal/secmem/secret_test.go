package secmem

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesCopies(t *testing.T) {
	src := []byte{1, 2, 3}
	s := FromBytes(src)
	src[0] = 99

	assert.Equal(t, []byte{1, 2, 3}, s.Expose())
	assert.Equal(t, 3, s.Len())
}

func TestCloseWipes(t *testing.T) {
	s := FromBytes([]byte{1, 2, 3})
	exposed := s.Expose()

	require.NoError(t, s.Close())
	assert.Nil(t, s.Expose())
	assert.Zero(t, s.Len())
	// The previously exposed slice was zeroed in place.
	assert.Equal(t, []byte{0, 0, 0}, exposed)

	// Idempotent.
	require.NoError(t, s.Close())
}

func TestBytesIsAnIndependentCopy(t *testing.T) {
	s := FromBytes([]byte{1, 2, 3})

	copied := s.Bytes()
	require.Equal(t, []byte{1, 2, 3}, copied)

	// Closing the secret leaves the already-taken copy intact.
	require.NoError(t, s.Close())
	assert.Equal(t, []byte{1, 2, 3}, copied)

	// Once wiped there is nothing left to copy.
	assert.Nil(t, s.Bytes())
}

func TestEqual(t *testing.T) {
	a := FromBytes([]byte("shared-secret"))
	b := FromBytes([]byte("shared-secret"))
	c := FromBytes([]byte("other-secret!"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))

	require.NoError(t, b.Close())
	assert.False(t, a.Equal(b))
}

func TestStringRedacts(t *testing.T) {
	s := FromBytes([]byte("super-secret"))
	out := fmt.Sprintf("%v %s", s, s)
	assert.NotContains(t, out, "super-secret")
}

func TestWipe(t *testing.T) {
	b := []byte{7, 7, 7}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
