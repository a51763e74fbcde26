package model

// Nmap is a result of nmap scan on a given host/ip address
type Nmap struct {
	Address string
	Status  string
	Ports   []NmapPort
}

// NmapPort contains nmap output for a given port
type NmapPort struct {
	ID       int
	State    string // open, closed, filtered, ...
	Protocol string
	Service  NmapService
}

// NmapService is a service detected by nmap -sV. Tunnel is "ssl" for TLS
// wrapped services and empty when no service detection was done.
type NmapService struct {
	Name    string
	Product string
	Version string
	Tunnel  string
}

const (
	PortStateOpen = "open"
	TunnelSSL     = "ssl"
)

// PortScan is a parsed port-scan document
type PortScan struct {
	Hosts []Nmap
}
