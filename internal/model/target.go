package model

import (
	"fmt"
	"net"
	"strconv"
)

// TLSTarget is a single endpoint confirmed to negotiate TLS.
// It is comparable, so it can be used as a map key.
type TLSTarget struct {
	Host string
	Port uint16
}

func (t TLSTarget) IsZero() bool {
	return t == TLSTarget{}
}

// String returns host:port. IPv6 addresses are not bracketed, which matches
// the sslscan file naming convention and the report header format.
func (t TLSTarget) String() string {
	return t.Host + ":" + strconv.Itoa(int(t.Port))
}

// Validate checks the host is not empty and port is in [1, 65535].
func (t TLSTarget) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("target %q: empty host", t.String())
	}
	if t.Port == 0 {
		return fmt.Errorf("target %q: port out of range", t.String())
	}
	return nil
}

// Dial returns the address in a form accepted by net.Dial and sslscan,
// so IPv6 addresses get brackets.
func (t TLSTarget) Dial() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// NewTLSTarget parses the port string found in scan documents.
func NewTLSTarget(host, port string) (TLSTarget, error) {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return TLSTarget{}, fmt.Errorf("invalid port %q: %w", port, err)
	}
	t := TLSTarget{Host: host, Port: uint16(p)}
	return t, t.Validate()
}
