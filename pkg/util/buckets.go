package util

import (
	"fmt"
	"math"
	"strconv"
)

// DecimalExponentialBuckets returns histogram bucket boundaries that
// start at 10^lowestPowerOf10 and span powersOf10 powers of ten, with
// stepsInBetween logarithmically spaced boundaries inside every power
// of ten. Every power of ten is represented exactly.
//
// Boundaries are rounded to five significant digits and parsed from
// their decimal form, so that label values in exported metrics remain
// short and stable across platforms.
func DecimalExponentialBuckets(lowestPowerOf10, powersOf10, stepsInBetween int) []float64 {
	significands := make([]string, 0, stepsInBetween+1)
	for i := 0; i <= stepsInBetween; i++ {
		v := math.Pow(10.0, float64(i)/float64(stepsInBetween+1))
		significands = append(significands, strconv.FormatFloat(v, 'f', 6, 64)[:6])
	}

	buckets := make([]float64, 0, powersOf10*len(significands)+1)
	for exponent := lowestPowerOf10; exponent < lowestPowerOf10+powersOf10; exponent++ {
		for _, significand := range significands {
			buckets = append(buckets, parseBucketBoundary(significand, exponent))
		}
	}
	return append(buckets, parseBucketBoundary("1", lowestPowerOf10+powersOf10))
}

func parseBucketBoundary(significand string, exponent int) float64 {
	v, err := strconv.ParseFloat(significand+"e"+strconv.Itoa(exponent), 64)
	if err != nil {
		panic(fmt.Sprintf("Invalid bucket boundary %se%d: %s", significand, exponent, err))
	}
	return v
}
