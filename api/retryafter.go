package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseRetryAfterSecs parses a `Retry-After` response header into a delay
// in seconds. The header may be either delta-seconds ("120") or an
// HTTP-date.
func parseRetryAfterSecs(header http.Header) *uint64 {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseUint(value, 10, 64); err == nil {
		return &seconds
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return nil
	}
	delay := time.Until(at)
	if delay < 0 {
		return nil
	}
	if delay < time.Second {
		delay = time.Second
	}
	secs := uint64(delay / time.Second)
	return &secs
}
