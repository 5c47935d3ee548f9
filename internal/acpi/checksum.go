package acpi

// Sum adds up every byte of b, wrapping at 256.
func Sum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum += v
	}
	return sum
}

// Valid calculates the checksum for an ACPI structure of the given length
// stored at the start of b and returns true if it adds up to zero. A length
// larger than b never validates.
func Valid(b []byte, length uint32) bool {
	if uint64(length) > uint64(len(b)) {
		return false
	}
	return Sum(b[:length]) == 0
}

// validFn is swapped by tests to observe checksum validation.
var validFn = Valid
