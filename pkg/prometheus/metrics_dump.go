package prometheus

import (
	"io"
	"regexp"

	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// TreeHashMetricsPattern matches the names of all metrics exported by
// this module.
var TreeHashMetricsPattern = regexp.MustCompile("^buildbarn_treehash_")

// DumpMetrics writes all metrics provided by a Gatherer to a writer,
// using the text-based exposition format. This allows metrics of
// short-lived invocations to be inspected without scraping.
func DumpMetrics(w io.Writer, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return util.StatusWrap(err, "Failed to gather metrics")
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return util.StatusWrapf(err, "Failed to write metric family %#v", family.GetName())
		}
	}
	return nil
}
