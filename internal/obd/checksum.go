package obd

// Checksum returns the 8-bit running sum of every byte of frame except the
// last one, which is the checksum slot itself.
func Checksum(frame []byte) byte {
	var sum byte
	for i := 0; i < len(frame)-1; i++ {
		sum += frame[i]
	}
	return sum
}

// Stamp returns a copy of frame with its last byte set to the checksum.
// The input is left untouched.
func Stamp(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	if len(out) > 0 {
		out[len(out)-1] = Checksum(out)
	}
	return out
}

// ValidChecksum reports whether the trailing byte of frame matches the sum of
// the bytes before it.
func ValidChecksum(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	return frame[len(frame)-1] == Checksum(frame)
}
