package crc32c

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumMatchesStdlib(t *testing.T) {
	data := []byte("Hello, is it me you're looking for?")
	want := crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli))
	assert.Equal(t, want, Checksum(data))
}

func TestChecksumEmpty(t *testing.T) {
	assert.Equal(t, uint32(0), Checksum(nil))
}

func TestChecksumDetectsMutation(t *testing.T) {
	data := []byte("aaaaaaaaaa")
	mutated := append([]byte(nil), data...)
	mutated[3] = 'b'
	assert.NotEqual(t, Checksum(data), Checksum(mutated))
}
