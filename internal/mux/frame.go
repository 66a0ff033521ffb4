package mux

import "encoding/binary"

// IDLen is the width of the little-endian SocketId suffix on every frame.
const IDLen = 8

// MaxFrame is the maximum Transport message size, id suffix included.
const MaxFrame = 1 << 20 // 1 MiB

// Split divides a framed Transport message into its payload and SocketId,
// per spec.md §4.2: the id is the trailing IDLen bytes, little-endian; the
// rest is payload. A message shorter than IDLen is malformed.
func Split(message []byte) (payload []byte, id uint64, err error) {
	if len(message) < IDLen {
		return nil, 0, ErrMalformedFrame
	}
	split := len(message) - IDLen
	id = binary.LittleEndian.Uint64(message[split:])
	return message[:split], id, nil
}

// Join writes id as little-endian bytes immediately after buf[:payloadLen]
// and returns the combined view buf[:payloadLen+IDLen]. buf must have room
// for at least payloadLen+IDLen bytes; callers reserve that room up front
// (spec.md §4.2 calls this "the same buffer").
func Join(buf []byte, payloadLen int, id uint64) []byte {
	binary.LittleEndian.PutUint64(buf[payloadLen:payloadLen+IDLen], id)
	return buf[:payloadLen+IDLen]
}
