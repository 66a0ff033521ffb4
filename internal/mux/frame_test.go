package mux

import (
	"bytes"
	"testing"

	"gotest.tools/assert"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		id      uint64
	}{
		{"empty payload", nil, 42},
		{"small payload", []byte("hello"), 1},
		{"max id", []byte{1, 2, 3}, ^uint64(0)},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			buf := make([]byte, len(c.payload)+IDLen)
			copy(buf, c.payload)
			message := Join(buf, len(c.payload), c.id)

			payload, id, err := Split(message)
			assert.NilError(t, err)
			assert.Equal(t, id, c.id)
			if !bytes.Equal(payload, c.payload) {
				t.Fatalf("payload = %v, want %v", payload, c.payload)
			}
		})
	}
}

func TestSplitMalformed(t *testing.T) {
	_, _, err := Split([]byte{1, 2, 3})
	assert.Assert(t, Is(err, KindMalformedFrame))
}
