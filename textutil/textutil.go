// Package textutil provides UTF-8-safe truncation helpers shared by the
// shell tool's output capping and the agent loop's prompt-augmentation
// truncation.
package textutil

import "unicode/utf8"

// SafePrefixByBytes returns a UTF-8-safe prefix of text whose byte length is
// at most maxBytes. Slicing on an arbitrary byte offset can land inside a
// multi-byte rune; this walks back to the nearest rune boundary instead.
func SafePrefixByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return text[:end]
}

// TruncateWithSuffixByBytes truncates text to maxBytes and appends suffix
// when truncation occurred.
func TruncateWithSuffixByBytes(text string, maxBytes int, suffix string) string {
	if len(text) <= maxBytes {
		return text
	}
	return SafePrefixByBytes(text, maxBytes) + suffix
}

// TruncateWithSuffixByChars truncates text to maxChars runes and appends
// suffix when truncation occurred.
func TruncateWithSuffixByChars(text string, maxChars int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + suffix
}
