package prometheus

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_model/go"
)

type nameFilteringGatherer struct {
	base        prometheus.Gatherer
	namePattern *regexp.Regexp
}

// NewNameFilteringGatherer creates a decorator for Gatherer that only
// returns metric families whose name matches a regular expression. It
// is used to restrict metrics dumps to the ones that describe hashing,
// omitting the Go runtime and process collectors.
func NewNameFilteringGatherer(base prometheus.Gatherer, namePattern *regexp.Regexp) prometheus.Gatherer {
	return &nameFilteringGatherer{
		base:        base,
		namePattern: namePattern,
	}
}

func (g *nameFilteringGatherer) Gather() ([]*io_prometheus_client.MetricFamily, error) {
	families, err := g.base.Gather()
	// Gatherers may return partial results along with an error.
	kept := families[:0]
	for _, family := range families {
		if g.namePattern.MatchString(family.GetName()) {
			kept = append(kept, family)
		}
	}
	return kept, err
}
