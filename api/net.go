package api

import (
	"errors"
	"net"
	"net/url"
)

// isConnectError reports whether err represents a failed connection
// attempt (refused, unreachable, DNS failure) rather than an application-
// level response.
func isConnectError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
