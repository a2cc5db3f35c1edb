package selftest

import (
	"encoding/hex"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// KnownVectorDigest is the BLAKE-256 digest of 123 zero bytes.
const KnownVectorDigest = "a4ad43a0dce6d28383165b0df7126186721e41fa586c0ab6682b2ce6f4c730b9"

// CheckKnownVector validates that the BLAKE-256 implementation yields
// the expected digest for a fixed input.
func CheckKnownVector() error {
	return checkVector(leafhash.BLAKE256, make([]byte, 123), KnownVectorDigest)
}

func checkVector(function leafhash.Function, data []byte, expectedDigest string) error {
	sum := function.Sum(data)
	if digest := hex.EncodeToString(sum[:]); digest != expectedDigest {
		return status.Errorf(codes.Internal, "Function %s yielded digest %s for a known vector, while %s was expected", function.Name(), digest, expectedDigest)
	}
	return nil
}
