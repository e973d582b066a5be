package configtypes

import (
	"fmt"
	"net"
	"strconv"
)

// listenAddr is a parsed listen setting. An empty host binds every interface.
type listenAddr struct {
	host string
	port int
}

// parseListen accepts "host:port", ":port" or a bare port number
func parseListen(listen string) (listenAddr, error) {
	if listen == "" {
		return listenAddr{}, fmt.Errorf("listen address is empty")
	}

	if port, err := strconv.Atoi(listen); err == nil {
		return checkPort(listenAddr{port: port})
	}

	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return listenAddr{}, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return listenAddr{}, fmt.Errorf("invalid port %q in listen address", portStr)
	}
	return checkPort(listenAddr{host: host, port: port})
}

func checkPort(a listenAddr) (listenAddr, error) {
	if a.port < 1 || a.port > 65535 {
		return listenAddr{}, fmt.Errorf("port must be between 1 and 65535, got %d", a.port)
	}
	return a, nil
}

func (a listenAddr) wildcard() bool {
	return a.host == "" || a.host == "0.0.0.0" || a.host == "::"
}

// ValidateListenAddress reports whether listen can be bound
func ValidateListenAddress(listen string) error {
	_, err := parseListen(listen)
	return err
}

// listenersCollide reports whether two valid listen settings would fight
// over the same port. A wildcard host overlaps every other host.
func listenersCollide(a, b string) bool {
	la, errA := parseListen(a)
	lb, errB := parseListen(b)
	if errA != nil || errB != nil || la.port != lb.port {
		return false
	}
	return la.wildcard() || lb.wildcard() || la.host == lb.host
}
