package model

import "strings"

// CipherScan is a parsed cipher-scan (sslscan) document
type CipherScan struct {
	Version string
	Tests   []SSLTest
}

// SSLTest is a result of a single sslscan run against host:port
type SSLTest struct {
	Target  TLSTarget
	SNIName string
	Ciphers []SSLCipher
}

// SSLCipher is one accepted cipher suite as reported by sslscan
type SSLCipher struct {
	ID         string // eg 0xc02f
	Status     string // accepted, preferred
	SSLVersion string // eg TLSv1.2
	Cipher     string // OpenSSL name, eg ECDHE-RSA-AES128-GCM-SHA256
	Bits       int
}

// CipherRecord is a flattened cipher-scan entry
type CipherRecord struct {
	ID       string // normalized, see NormalizeCipherID
	Target   TLSTarget
	Protocol string
	Cipher   string
}

// Strength is a security category assigned by the catalog. It is an opaque
// string, so categories added by the source are passed through.
type Strength string

const (
	StrengthInsecure    Strength = "insecure"
	StrengthWeak        Strength = "weak"
	StrengthSecure      Strength = "secure"
	StrengthRecommended Strength = "recommended"
)

// Acceptable is true for secure and recommended only. Any other value,
// including unknown ones, is not acceptable.
func (s Strength) Acceptable() bool {
	return s == StrengthSecure || s == StrengthRecommended
}

func (s Strength) String() string {
	return string(s)
}

// NormalizeCipherID strips an optional 0x prefix and upper-cases the hex
// digits, so 0xc02f and C02F are the same key.
func NormalizeCipherID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 2 && (id[:2] == "0x" || id[:2] == "0X") {
		id = id[2:]
	}
	return strings.ToUpper(id)
}
