package rpc

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/kestrel-ai/bridge/pkg/bridge/bridgeerr"
)

// ValidateURL applies the tool-connection URL validation table shared by
// both transports: the URL must parse with a non-empty host and an
// http/https scheme; loopbackOnly enforces the mobile-like-platform rule
// that non-loopback connections require https; and a loopback host on a
// privileged port (<1024) is always refused, regardless of platform.
func ValidateURL(raw string, loopbackOnly bool) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolInvalidURL,
			Message: fmt.Sprintf("not a parseable URL: %q", raw),
			Err:     err,
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolInvalidProtocol,
			Message: fmt.Sprintf("unsupported scheme %q", u.Scheme),
		}
	}
	isLoopback := isLoopbackHost(u.Hostname())
	if loopbackOnly && u.Scheme != "https" && !isLoopback {
		return &bridgeerr.ToolConnectionError{
			Subkind: bridgeerr.ToolRemoteOnlyViolation,
			Message: "non-loopback connections require https on this platform",
		}
	}
	if isLoopback {
		if port, err := strconv.Atoi(u.Port()); err == nil && port != 0 && port < 1024 {
			return &bridgeerr.ToolConnectionError{
				Subkind: bridgeerr.ToolSecurityViolation,
				Message: fmt.Sprintf("refusing to connect to privileged loopback port %d", port),
			}
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
