package obd

// CalculateKey derives the SecurityAccess key from the seed sent by the ECU.
//
// The seed is run through a 16-bit feedback shift register. The number of
// rounds comes from seed bits 15, 7, 4 and 0 (weights 8, 4, 2, 1) plus one.
// Each round shifts right, feeds bits 1^2^8^9 back into bit 15 and forces
// bit 0: cleared when bits 3 and 13 of the current value are both set,
// set otherwise.
func CalculateKey(seed uint16) (hi, lo byte) {
	count := (seed>>12&0x8 | seed>>5&0x4 | seed>>3&0x2 | seed&0x1) + 1

	for i := uint16(0); i < count; i++ {
		tap := (seed>>1 ^ seed>>2 ^ seed>>8 ^ seed>>9) & 1
		next := seed>>1 | tap<<15
		if seed>>3&1 == 1 && seed>>13&1 == 1 {
			next &^= 1
		} else {
			next |= 1
		}
		seed = next
	}

	return byte(seed >> 8), byte(seed)
}

// SeedFromResponse extracts the big-endian seed from a RequestSeed response
// (length, 0x67, level, seed hi, seed lo).
func SeedFromResponse(resp []byte) (uint16, bool) {
	if len(resp) < 5 {
		return 0, false
	}
	return uint16(resp[3])<<8 | uint16(resp[4]), true
}
