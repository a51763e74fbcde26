package report

import (
	"errors"

	"github.com/CZERTAINLY/cipher-lens/internal/model"
)

// Classifier returns the security category of a cipher id.
// catalog.StrengthMap implements it.
type Classifier interface {
	Strength(id string) (model.Strength, error)
}

// Line is a single listed cipher of a target
type Line struct {
	ID       string         `json:"id"`
	Protocol string         `json:"protocol"`
	Cipher   string         `json:"cipher"`
	Strength model.Strength `json:"strength"`
}

// Group holds the listed ciphers of one target in extraction order.
// Suppressed counts the records hidden as acceptable.
type Group struct {
	Target     model.TLSTarget `json:"-"`
	Lines      []Line          `json:"ciphers"`
	Suppressed int             `json:"suppressed"`
}

// Report is an assessed set of cipher records grouped by target. Groups
// keep the order in which their targets were first seen.
type Report struct {
	NoSecure bool    `json:"nosecure"`
	Groups   []Group `json:"targets"`
}

// Build classifies every record and groups records by target. Records with
// an acceptable strength are left out when suppress is set, the group is
// kept even when all its records are left out. The first record whose id
// is missing in the catalog fails the whole build.
func Build(records []model.CipherRecord, strengths Classifier, suppress bool) (Report, error) {
	ret := Report{NoSecure: suppress}
	index := make(map[model.TLSTarget]int)
	for _, rec := range records {
		strength, err := strengths.Strength(rec.ID)
		if err != nil {
			if errors.Is(err, model.ErrUnknownCipherID) {
				return Report{}, &model.UnknownCipherError{ID: model.NormalizeCipherID(rec.ID), Target: rec.Target}
			}
			return Report{}, err
		}

		idx, ok := index[rec.Target]
		if !ok {
			idx = len(ret.Groups)
			index[rec.Target] = idx
			ret.Groups = append(ret.Groups, Group{Target: rec.Target, Lines: []Line{}})
		}
		g := &ret.Groups[idx]

		if suppress && strength.Acceptable() {
			g.Suppressed++
			continue
		}
		g.Lines = append(g.Lines, Line{
			ID:       model.NormalizeCipherID(rec.ID),
			Protocol: rec.Protocol,
			Cipher:   rec.Cipher,
			Strength: strength,
		})
	}
	return ret, nil
}

// Ciphers returns the number of listed and suppressed records
func (r Report) Ciphers() (listed, suppressed int) {
	for _, g := range r.Groups {
		listed += len(g.Lines)
		suppressed += g.Suppressed
	}
	return
}
