package utils

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sigweihq/dotclaim/pkg/constants"
)

// CreateHTTPClientWithTimeouts returns an HTTP client with bounded timeouts and redirects disabled
func CreateHTTPClientWithTimeouts() *http.Client {
	return &http.Client{
		Timeout: constants.HTTPClientTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validateURL(raw string, secure, plain string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	switch strings.ToLower(u.Scheme) {
	case secure:
		return nil
	case plain:
		// Allow plain transport to loopback for local nodes and testing
		if isLoopback(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("URL must use %s unless it points at localhost: %s", secure, raw)
	}
	return fmt.Errorf("unsupported URL scheme %q: %s", u.Scheme, raw)
}

// ValidateServiceURL validates that a claim API URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1/[::1])
func ValidateServiceURL(raw string) error {
	return validateURL(raw, "https", "http")
}

// ValidateLedgerEndpoint validates a ledger RPC endpoint. wss and https are
// accepted anywhere; ws and http only on loopback.
func ValidateLedgerEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if strings.HasPrefix(strings.ToLower(u.Scheme), "http") {
		return validateURL(raw, "https", "http")
	}
	return validateURL(raw, "wss", "ws")
}
