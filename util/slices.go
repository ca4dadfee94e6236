package util

// CopyByteSlice copies the slice to a newly-allocated one
func CopyByteSlice(slice []byte) []byte {
	return append([]byte(nil), slice...)
}

// IndexOfString returns the index of target in the given string slice, or -1 if not found
func IndexOfString(slice []string, target string) int {
	for i, item := range slice {
		if item == target {
			return i
		}
	}
	return -1
}
