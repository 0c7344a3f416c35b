package modbus

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint identifies one protocol peer on the field bus.
//
// Connections are held 1:1 against this tuple: two endpoints differing
// only in unit identifier share a TCP target but are still addressed
// as distinct peers by the protocol header. The struct is comparable,
// so it is used directly as a map key rather than a formatted string.
type Endpoint struct {
	Host   string
	Port   int
	UnitID uint8
}

// NewEndpoint constructs an Endpoint, applying the standard port when
// none is given.
func NewEndpoint(host string, port int, unitID uint8) Endpoint {
	if port == 0 {
		port = DefaultPort
	}
	return Endpoint{Host: host, Port: port, UnitID: unitID}
}

// Addr returns the dialable "host:port" address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint for logs.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d/%d", e.Host, e.Port, e.UnitID)
}

// Validate checks that the endpoint is addressable.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: endpoint host is empty", ErrValidation)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: endpoint port %d out of range", ErrValidation, e.Port)
	}
	return nil
}
