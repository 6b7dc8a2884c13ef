package utils

// IsEqual - Returns true if a and b are equal both in size and contents
func IsEqual(a, b []byte) bool {
	lenA := len(a)
	if lenA != len(b) {
		return false
	}

	for i := 0; i < lenA; i++ {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// HasPrefix - Returns true if a starts with prefix
func HasPrefix(a, prefix []byte) bool {
	if len(a) < len(prefix) {
		return false
	}

	return IsEqual(a[:len(prefix)], prefix)
}

// CopyBytes - Returns a copy of a that does not share memory with it
func CopyBytes(a []byte) (b []byte) {
	b = make([]byte, len(a))
	_ = copy(b, a)

	return
}

// AlignUp - Rounds size up to the nearest multiple of align, align has to be a power of 2
func AlignUp(size, align int64) int64 {
	if align <= 1 {
		return size
	}

	return (size + align - 1) &^ (align - 1)
}
