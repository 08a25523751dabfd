package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Writer(t *testing.T) {
	w := NewWriter("127.0.0.1:0")

	assert.Nil(t, w.Data())
	assert.Equal(t, "127.0.0.1:0", w.RemoteAddr().String())

	n, err := w.Write([]byte{1, 2, 3})
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, w.Data())
}
