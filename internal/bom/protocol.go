package bom

type TLSInfo struct {
	Name    string
	Version string
	OID     string
}

// ParseTLSInfo maps protocol versions as printed by sslscan and nmap to
// the name, version and OID used in the CBOM.
func ParseTLSInfo(input string) TLSInfo {
	patterns := map[string]TLSInfo{
		"TLSv1.3": {Name: "tls", Version: "1.3", OID: "1.3.6.1.5.5.7.6.2"},
		"TLSv1.2": {Name: "tls", Version: "1.2", OID: "1.3.6.1.5.5.7.6.1"},
		"TLSv1.1": {Name: "tls", Version: "1.1", OID: "1.3.6.1.5.5.7.6.0"},
		"TLSv1.0": {Name: "tls", Version: "1.0", OID: "1.3.6.1.4.1.311.10.3.3"},
		"TLSv1":   {Name: "tls", Version: "1.0", OID: "1.3.6.1.4.1.311.10.3.3"},
		"SSLv3":   {Name: "ssl", Version: "3.0", OID: "1.3.6.1.4.1.311.10.3.2"},
		"SSLv2":   {Name: "ssl", Version: "2.0", OID: "1.3.6.1.4.1.311.10.3.1"},
	}
	if result, ok := patterns[input]; ok {
		return result
	}
	return TLSInfo{Name: "n/a", Version: "n/a", OID: "n/a"}
}
