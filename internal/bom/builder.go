package bom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"time"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
	"github.com/CZERTAINLY/cipher-lens/internal/report"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

// PropertyStrength prefixes the per cipher suite strength property of
// a protocol component, eg cipher-lens:strength:C02F = recommended
const PropertyStrength = "cipher-lens:strength"

var programVersion string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		programVersion = "unknown"
	} else {
		programVersion = info.Main.Version
	}
}

// Builder collects assessed endpoints into a CycloneDX CBOM. Every
// (target, protocol version) pair becomes one protocol component.
type Builder struct {
	version    cdx.SpecVersion
	schema     string
	components map[string]*cdx.Component
	now        func() time.Time
}

func NewBuilder(version string) (*Builder, error) {
	var versions = map[string]cdx.SpecVersion{
		"":    cdx.SpecVersion1_6,
		"1.6": cdx.SpecVersion1_6,
	}
	var schemas = map[cdx.SpecVersion]string{
		cdx.SpecVersion1_6: "https://cyclonedx.org/schema/bom-1.6.schema.json",
	}

	v, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("unsupported CycloneDX version %s", version)
	}
	schema, ok := schemas[v]
	if !ok {
		return nil, fmt.Errorf("unknown json schema for version %s", v)
	}

	return &Builder{
		version:    v,
		schema:     schema,
		components: make(map[string]*cdx.Component),
		now:        time.Now,
	}, nil
}

// AppendReport adds the listed ciphers of every group. Suppressed records
// are not part of a report, so callers pass an unsuppressed one.
func (b *Builder) AppendReport(ctx context.Context, r report.Report) *Builder {
	for _, g := range r.Groups {
		for _, l := range g.Lines {
			b.appendLine(ctx, g.Target, l)
		}
	}
	return b
}

func (b *Builder) appendLine(ctx context.Context, target model.TLSTarget, line report.Line) {
	info := ParseTLSInfo(line.Protocol)
	if info.Name == "n/a" {
		slog.WarnContext(ctx, "unsupported protocol version: ignoring", "target", target.String(), "protocol", line.Protocol)
		return
	}
	identifiers, ok := identifiers(line.ID)
	if !ok {
		slog.WarnContext(ctx, "unsupported cipher id: ignoring", "target", target.String(), "id", line.ID)
		return
	}

	ref := "crypto/protocol/" + info.Name + "@" + info.Version + "/" + target.String()
	compo, ok := b.components[ref]
	if !ok {
		compo = &cdx.Component{
			Name:   line.Protocol,
			Type:   cdx.ComponentTypeCryptographicAsset,
			BOMRef: ref,
			CryptoProperties: &cdx.CryptoProperties{
				AssetType: cdx.CryptoAssetTypeProtocol,
				ProtocolProperties: &cdx.CryptoProtocolProperties{
					Type:         cdx.CryptoProtocolTypeTLS,
					Version:      info.Version,
					CipherSuites: &[]cdx.CipherSuite{},
				},
				OID: info.OID,
			},
			Evidence: &cdx.Evidence{
				Occurrences: &[]cdx.EvidenceOccurrence{
					{Location: target.String()},
				},
			},
			Properties: &[]cdx.Property{},
		}
		b.components[ref] = compo
	}

	suites := compo.CryptoProperties.ProtocolProperties.CipherSuites
	for _, s := range *suites {
		if s.Identifiers != nil && slices.Equal(*s.Identifiers, identifiers) {
			return
		}
	}
	*suites = append(*suites, cdx.CipherSuite{
		Name:        line.Cipher,
		Identifiers: &identifiers,
	})
	*compo.Properties = append(*compo.Properties, cdx.Property{
		Name:  PropertyStrength + ":" + line.ID,
		Value: string(line.Strength),
	})
}

// BOM returns a cdx.BOM based on a data inside the Builder. Components
// are sorted by their bom-ref.
func (b *Builder) BOM() cdx.BOM {
	components := make([]cdx.Component, 0, len(b.components))
	for _, ref := range slices.Sorted(maps.Keys(b.components)) {
		components = append(components, *b.components[ref])
	}

	bom := cdx.BOM{
		JSONSchema:   b.schema,
		BOMFormat:    "CycloneDX",
		SpecVersion:  b.version,
		SerialNumber: "urn:uuid:" + uuid.New().String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: b.now().UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: "operations",
				},
			},
			// This can't be nil otherwise this error will happen
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    "application",
				Name:    "cipher-lens",
				Version: programVersion,
				Manufacturer: &cdx.OrganizationalEntity{
					Name:    "CZERTAINLY",
					Address: &cdx.PostalAddress{},
					URL: &[]string{
						"https://www.czertainly.com",
					},
				},
			},
		},
		Components: &components,
	}
	return bom
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}

// identifiers splits normalized C02F into 0xC0 and 0x2F
func identifiers(id string) ([]string, bool) {
	id = model.NormalizeCipherID(id)
	if len(id) != 4 {
		return nil, false
	}
	return []string{"0x" + id[:2], "0x" + id[2:]}, true
}
