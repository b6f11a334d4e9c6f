package util

// LogPrefixLength is how much of a state value or correlation handle may
// appear in logs.
const LogPrefixLength = 8

// SafeTruncate returns at most maxLen runes of s. Provider error messages are
// frequently Chinese, so truncation never splits a UTF-8 sequence.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i]
		}
		n++
	}
	return s
}

// LogPrefix shortens an opaque value (state, correlation handle) for logging.
func LogPrefix(s string) string {
	return SafeTruncate(s, LogPrefixLength)
}
