package stats

import (
	"expvar"
	"iter"
	"maps"
	"slices"
)

// Stats holds expvar-backed counters of a single assessment run and publishes
// them under a common key prefix. All counters are expvar.Map and are safe for
// concurrent updates. When the standard expvar HTTP handler is registered,
// these values are available at /debug/vars.
//
// - <prefix>_targets_total: TLS targets handed to the cipher enumerator
// - <prefix>_targets_errors: targets where the enumerator failed
// - <prefix>_documents_total: cipher-scan documents collected
// - <prefix>_documents_errors: documents which could not be parsed
// - <prefix>_ciphers_total: cipher records assessed
// - <prefix>_ciphers_suppressed: records hidden as secure or recommended
type Stats struct {
	prefix    string
	root      *expvar.Map
	targets   *expvar.Map
	documents *expvar.Map
	ciphers   *expvar.Map
}

// New publishes new set of metrics. Registering the same metrics twice causes panic, so for tests, the prefix should be unique.
func New(prefix string) *Stats {
	root := expvar.NewMap(prefix)
	targets := new(expvar.Map).Init()
	documents := new(expvar.Map).Init()
	ciphers := new(expvar.Map).Init()

	targets.Add("total", 0)
	targets.Add("errors", 0)

	documents.Add("total", 0)
	documents.Add("errors", 0)

	ciphers.Add("total", 0)
	ciphers.Add("suppressed", 0)

	root.Set("targets", targets)
	root.Set("documents", documents)
	root.Set("ciphers", ciphers)

	return &Stats{
		prefix:    prefix,
		root:      root,
		targets:   targets,
		documents: documents,
		ciphers:   ciphers,
	}
}

func (s *Stats) IncTargets() {
	s.targets.Add("total", 1)
}
func (s *Stats) IncErrTargets() {
	s.targets.Add("errors", 1)
}
func (s *Stats) IncDocuments() {
	s.documents.Add("total", 1)
}
func (s *Stats) IncErrDocuments() {
	s.documents.Add("errors", 1)
}
func (s *Stats) AddCiphers(n int) {
	s.ciphers.Add("total", int64(n))
}
func (s *Stats) AddSuppressedCiphers(n int) {
	s.ciphers.Add("suppressed", int64(n))
}

// Stats returns a name, value iterator across registered metrics. This uses expvar.Do under the hood, so is safe to be called concurrently.
// Stats are returned in an alphabetic order.
func (s *Stats) Stats() iter.Seq2[string, string] {
	stats := make(map[string]string, 6)
	for name, m := range map[string]*expvar.Map{
		"targets":   s.targets,
		"documents": s.documents,
		"ciphers":   s.ciphers,
	} {
		m.Do(func(kv expvar.KeyValue) {
			stats[name+"_"+kv.Key] = kv.Value.String()
		})
	}

	keys := slices.Sorted(maps.Keys(stats))
	return func(yield func(string, string) bool) {
		for _, key := range keys {
			if !yield(s.prefix+"_"+key, stats[key]) {
				return
			}
		}
	}
}
