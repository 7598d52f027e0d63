package security

// ConstantTimeEq compares a and b without data-dependent branches. Slices of
// different length compare unequal immediately; lengths are not secret.
func ConstantTimeEq(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var acc byte
	for i := range a {
		acc |= a[i] ^ b[i]
	}
	return constantTimeByteIsZero(acc) == 1
}

// ConstantTimeSelect returns a when choice is 1 and b when choice is 0.
// Both slices must have the same length as dst.
func ConstantTimeSelect(choice int, dst, a, b []byte) {
	mask := byte(-choice)
	for i := range dst {
		dst[i] = (a[i] & mask) | (b[i] &^ mask)
	}
}

// SecureZero overwrites b with zeros.
func SecureZero(b []byte) {
	clear(b)
}

// HammingWeight counts set bits across b.
func HammingWeight(b []byte) int {
	n := 0
	for _, v := range b {
		for v != 0 {
			n += int(v & 1)
			v >>= 1
		}
	}
	return n
}

func constantTimeByteIsZero(x byte) int {
	return int((uint32(x) - 1) >> 31)
}
