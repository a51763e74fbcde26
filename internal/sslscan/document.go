package sslscan

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
)

// xml schema of sslscan --xml output, only the parts used for the assessment
type document struct {
	XMLName xml.Name  `xml:"document"`
	Version string    `xml:"version,attr"`
	Tests   []sslTest `xml:"ssltest"`
}

type sslTest struct {
	Host    string   `xml:"host,attr"`
	Port    string   `xml:"port,attr"`
	SNIName string   `xml:"sniname,attr"`
	Ciphers []cipher `xml:"cipher"`
}

type cipher struct {
	Status     string `xml:"status,attr"`
	SSLVersion string `xml:"sslversion,attr"`
	Bits       int    `xml:"bits,attr"`
	Cipher     string `xml:"cipher,attr"`
	ID         string `xml:"id,attr"`
}

// ParseFile reads and parses a cipher-scan document. Read failures are
// reported as model.ErrIO, everything else as model.ErrMalformedDocument.
// Both are wrapped in a model.DocumentError with the path.
func ParseFile(ctx context.Context, path string) (model.CipherScan, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.CipherScan{}, &model.DocumentError{Path: path, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.WarnContext(ctx, "closing cipher-scan document", "path", path, "error", err)
		}
	}()
	return parse(f, path)
}

// Parse decodes sslscan XML output. Every ssltest must carry a host and
// a valid port and every cipher an id, a protocol version and a name.
func Parse(r io.Reader) (model.CipherScan, error) {
	return parse(r, "-")
}

func parse(r io.Reader, path string) (model.CipherScan, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return model.CipherScan{}, &model.DocumentError{Path: path, Err: fmt.Errorf("%w: %w", model.ErrIO, err)}
	}

	var doc document
	dec := xml.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return model.CipherScan{}, &model.DocumentError{Path: path, Err: fmt.Errorf("%w: %w", model.ErrMalformedDocument, err)}
	}

	ret, err := toModel(doc)
	if err != nil {
		return model.CipherScan{}, &model.DocumentError{Path: path, Err: fmt.Errorf("%w: %w", model.ErrMalformedDocument, err)}
	}
	return ret, nil
}

func toModel(doc document) (model.CipherScan, error) {
	ret := model.CipherScan{
		Version: doc.Version,
		Tests:   make([]model.SSLTest, 0, len(doc.Tests)),
	}
	for idx, test := range doc.Tests {
		target, err := model.NewTLSTarget(test.Host, test.Port)
		if err != nil {
			return model.CipherScan{}, fmt.Errorf("ssltest #%d: %w", idx, err)
		}
		ciphers := make([]model.SSLCipher, 0, len(test.Ciphers))
		for cidx, c := range test.Ciphers {
			id := model.NormalizeCipherID(c.ID)
			if err := validID(id); err != nil {
				return model.CipherScan{}, fmt.Errorf("ssltest %s: cipher #%d: %w", target, cidx, err)
			}
			if c.SSLVersion == "" || c.Cipher == "" {
				return model.CipherScan{}, fmt.Errorf("ssltest %s: cipher #%d: missing sslversion or cipher", target, cidx)
			}
			ciphers = append(ciphers, model.SSLCipher{
				ID:         id,
				Status:     c.Status,
				SSLVersion: c.SSLVersion,
				Cipher:     c.Cipher,
				Bits:       c.Bits,
			})
		}
		ret.Tests = append(ret.Tests, model.SSLTest{
			Target:  target,
			SNIName: test.SNIName,
			Ciphers: ciphers,
		})
	}
	return ret, nil
}

// id must be two bytes in hex
func validID(id string) error {
	if len(id) != 4 {
		return fmt.Errorf("cipher id %q: expected 4 hex digits", id)
	}
	if _, err := hex.DecodeString(id); err != nil {
		return fmt.Errorf("cipher id %q: %w", id, err)
	}
	return nil
}

// Records flattens the document into cipher records. Order of tests and
// ciphers is kept, nothing is filtered or deduplicated.
func Records(doc model.CipherScan) []model.CipherRecord {
	var n int
	for _, test := range doc.Tests {
		n += len(test.Ciphers)
	}
	ret := make([]model.CipherRecord, 0, n)
	for _, test := range doc.Tests {
		for _, c := range test.Ciphers {
			ret = append(ret, model.CipherRecord{
				ID:       c.ID,
				Target:   test.Target,
				Protocol: c.SSLVersion,
				Cipher:   c.Cipher,
			})
		}
	}
	return ret
}
