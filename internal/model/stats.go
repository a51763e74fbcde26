package model

import "iter"

const (
	StatsTargetsTotal      = "_targets_total"
	StatsTargetsErr        = "_targets_errors"
	StatsDocumentsTotal    = "_documents_total"
	StatsDocumentsErr      = "_documents_errors"
	StatsCiphersTotal      = "_ciphers_total"
	StatsCiphersSuppressed = "_ciphers_suppressed"
)

type Stats interface {
	IncTargets()
	IncErrTargets()
	IncDocuments()
	IncErrDocuments()
	AddCiphers(n int)
	AddSuppressedCiphers(n int)
	Stats() iter.Seq2[string, string]
}
