package leafhashtest

import (
	"testing"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/stretchr/testify/require"
)

// TestFunctionCompliance checks the properties that the tree hash
// relies on for any leaf hash function.
func TestFunctionCompliance(t *testing.T, f leafhash.Function) {
	data := make([]byte, 3*leafhash.LeafSizeBytes+123)
	for i := range data {
		data[i] = byte(i * 7)
	}

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, f.Sum(data), f.Sum(data))
	})

	t.Run("DigestSize", func(t *testing.T) {
		t.Parallel()

		h := f.New()
		require.Equal(t, leafhash.HashSizeBytes, h.Size())
		require.Len(t, h.Sum(nil), leafhash.HashSizeBytes)
	})

	t.Run("IncrementalMatchesOneShot", func(t *testing.T) {
		t.Parallel()

		h := f.New()
		for _, chunk := range [][]byte{data[:1], data[1:1000], data[1000:4096], data[4096:]} {
			h.Write(chunk)
		}
		want := f.Sum(data)
		require.Equal(t, want[:], h.Sum(nil))
	})

	t.Run("ExpectedSizeDoesNotAffectDigest", func(t *testing.T) {
		t.Parallel()

		h := f.NewWithExpectedSize(1 << 30)
		h.Write(data)
		want := f.Sum(data)
		require.Equal(t, want[:], h.Sum(nil))
	})

	t.Run("ResetRestartsHashing", func(t *testing.T) {
		t.Parallel()

		h := f.New()
		h.Write([]byte("Hello"))
		h.Reset()
		h.Write(data)
		want := f.Sum(data)
		require.Equal(t, want[:], h.Sum(nil))
	})

	t.Run("InputSensitive", func(t *testing.T) {
		t.Parallel()

		modified := append([]byte(nil), data...)
		modified[len(modified)-1] ^= 1
		require.NotEqual(t, f.Sum(data), f.Sum(modified))
	})
}
