package esshare

import (
	"net"
	"strconv"
	"strings"
)

// ParseAuth parses a ":"-delimited authorization string pair. Returns
// two empty strings if the input does not contain ":"
func ParseAuth(auth string) (string, string) {
	if strings.Contains(auth, ":") {
		pair := strings.SplitN(auth, ":", 2)
		return pair[0], pair[1]
	}
	return "", ""
}

// ParseUserHost splits "user[:pass]@host[:port]" into its credentials and the
// host:port, applying defaultPort when the port is missing. A string with no "@"
// has empty credentials.
func ParseUserHost(s string, defaultPort int) (user, pass, hostPort string) {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		cred := s[:i]
		s = s[i+1:]
		if strings.Contains(cred, ":") {
			user, pass = ParseAuth(cred)
		} else {
			user = cred
		}
	}
	return user, pass, JoinHostPort(s, defaultPort)
}

// JoinHostPort returns address with defaultPort appended when it has no port.
// Bracketed and bare IPv6 literals are handled.
func JoinHostPort(address string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(defaultPort))
}
