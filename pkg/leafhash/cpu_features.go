package leafhash

import (
	"golang.org/x/sys/cpu"
)

// CPUFeatures returns the names of the vector extensions of the host
// CPU that are relevant to the leaf hash functions. The functions pick
// their vectorized variants on their own; this list is only reported
// for diagnostic purposes.
func CPUFeatures() []string {
	var features []string
	for _, feature := range []struct {
		name    string
		present bool
	}{
		{"sse2", cpu.X86.HasSSE2},
		{"ssse3", cpu.X86.HasSSSE3},
		{"sse4.1", cpu.X86.HasSSE41},
		{"avx", cpu.X86.HasAVX},
		{"avx2", cpu.X86.HasAVX2},
		{"avx512f", cpu.X86.HasAVX512F},
		{"asimd", cpu.ARM64.HasASIMD},
		{"sha2", cpu.ARM64.HasSHA2},
	} {
		if feature.present {
			features = append(features, feature.name)
		}
	}
	return features
}
