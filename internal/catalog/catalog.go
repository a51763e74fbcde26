package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/CZERTAINLY/cipher-lens/internal/model"

	"github.com/kaptinlin/jsonschema"

	_ "embed"
)

//go:generate go tool mockgen -destination=./mock/fetcher.go -package=mock github.com/CZERTAINLY/cipher-lens/internal/catalog Fetcher
type Fetcher interface {
	Fetch(ctx context.Context) (StrengthMap, error)
}

// Entry is a single cipher suite of the catalog
type Entry struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	OpenSSLName string         `json:"openssl_name,omitempty"`
	Strength    model.Strength `json:"strength"`
}

// StrengthMap maps a normalized cipher id to its catalog entry. It is
// immutable once built, so it is safe for concurrent use.
type StrengthMap struct {
	entries map[string]Entry
}

// NewStrengthMap builds the map in the order of entries, a later entry
// with the same id replaces the earlier one.
func NewStrengthMap(entries []Entry) StrengthMap {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		e.ID = model.NormalizeCipherID(e.ID)
		m[e.ID] = e
	}
	return StrengthMap{entries: m}
}

func (m StrengthMap) Len() int {
	return len(m.entries)
}

// Lookup returns the entry for a cipher id. An id without an entry
// is reported as model.UnknownCipherError.
func (m StrengthMap) Lookup(id string) (Entry, error) {
	e, ok := m.entries[model.NormalizeCipherID(id)]
	if !ok {
		return Entry{}, &model.UnknownCipherError{ID: model.NormalizeCipherID(id)}
	}
	return e, nil
}

// Strength is Lookup returning the category only
func (m StrengthMap) Strength(id string) (model.Strength, error) {
	e, err := m.Lookup(id)
	if err != nil {
		return "", err
	}
	return e.Strength, nil
}

// Entries returns all entries sorted by id
func (m StrengthMap) Entries() []Entry {
	ids := slices.Sorted(maps.Keys(m.entries))
	ret := make([]Entry, len(ids))
	for i, id := range ids {
		ret[i] = m.entries[id]
	}
	return ret
}

//go:embed schema.json
var schemaSource []byte

var payloadSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaSource)
	if err != nil {
		panic(err)
	}
	payloadSchema = schema
}

type payload struct {
	CipherSuites []map[string]suite `json:"ciphersuites"`
}

type suite struct {
	HexByte1    string `json:"hex_byte_1"`
	HexByte2    string `json:"hex_byte_2"`
	Security    string `json:"security"`
	OpenSSLName string `json:"openssl_name"`
}

// Decode validates the shape of the ciphersuite.info /api/cs/ payload and
// converts it to the StrengthMap. Any problem is reported as
// model.ErrClassificationUnavailable.
func Decode(b []byte) (StrengthMap, error) {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return StrengthMap{}, fmt.Errorf("%w: decoding payload: %w", model.ErrClassificationUnavailable, err)
	}
	result := payloadSchema.Validate(raw)
	if !result.IsValid() {
		var msgs []string
		for _, key := range slices.Sorted(maps.Keys(result.Errors)) {
			msgs = append(msgs, key+": "+result.Errors[key].Message)
		}
		return StrengthMap{}, fmt.Errorf("%w: unexpected payload: %s", model.ErrClassificationUnavailable, strings.Join(msgs, "; "))
	}

	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return StrengthMap{}, fmt.Errorf("%w: decoding payload: %w", model.ErrClassificationUnavailable, err)
	}

	var entries []Entry
	for _, item := range p.CipherSuites {
		// a single element is expected, sorting makes the rare case deterministic
		for _, name := range slices.Sorted(maps.Keys(item)) {
			s := item[name]
			entries = append(entries, Entry{
				ID:          Key(s.HexByte1, s.HexByte2),
				Name:        name,
				OpenSSLName: s.OpenSSLName,
				Strength:    model.Strength(s.Security),
			})
		}
	}
	return NewStrengthMap(entries), nil
}

// Key joins the two halves of the cipher suite id, so 0xC0 and 0x2F is C02F
func Key(hexByte1, hexByte2 string) string {
	second := model.NormalizeCipherID(hexByte2)
	if len(second) > 2 {
		second = second[len(second)-2:]
	}
	return model.NormalizeCipherID(hexByte1) + second
}
