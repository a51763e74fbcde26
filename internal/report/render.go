package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unsupported format %q, expected text or json", s)
}

// Options drive the rendering
type Options struct {
	Format Format
	// Strength appends the category as a third column of the text format
	Strength bool
}

// Render returns the report in the requested format. Text format prints
// host:port header of each group, a `protocol cipher` line per listed
// record and an empty line after each group.
func Render(r Report, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch opts.Format {
	case FormatText, "":
		err = writeText(&buf, r, opts.Strength)
	case FormatJSON:
		err = writeJSON(&buf, r)
	default:
		err = fmt.Errorf("unsupported format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeText(w io.Writer, r Report, strength bool) error {
	for _, g := range r.Groups {
		if _, err := fmt.Fprintln(w, g.Target.String()); err != nil {
			return err
		}
		for _, l := range g.Lines {
			var err error
			if strength {
				_, err = fmt.Fprintln(w, l.Protocol, l.Cipher, l.Strength)
			} else {
				_, err = fmt.Fprintln(w, l.Protocol, l.Cipher)
			}
			if err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

type jsonGroup struct {
	Target string `json:"target"`
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	Group
}

type jsonReport struct {
	NoSecure bool        `json:"nosecure"`
	Groups   []jsonGroup `json:"targets"`
}

func writeJSON(w io.Writer, r Report) error {
	out := jsonReport{
		NoSecure: r.NoSecure,
		Groups:   make([]jsonGroup, 0, len(r.Groups)),
	}
	for _, g := range r.Groups {
		out.Groups = append(out.Groups, jsonGroup{
			Target: g.Target.String(),
			Host:   g.Target.Host,
			Port:   g.Target.Port,
			Group:  g,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
