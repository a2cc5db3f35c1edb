package testutil

import (
	"crypto/sha256"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// RequireEqualProto asserts that the two passed protocol buffer
// messages are equal.
//
// Because maps in protocol buffers aren't serialized deterministically,
// this function falls back to doing a string comparison upon failure.
func RequireEqualProto(t *testing.T, want, got proto.Message) {
	t.Helper()
	if !proto.Equal(want, got) {
		wantStr := mustMarshalToString(t, want)
		gotStr := mustMarshalToString(t, got)
		if wantStr != gotStr {
			t.Fatalf("Not equal:\nWant:\n\n%s\n\nGot:\n\n%s", wantStr, gotStr)
		}
	}
}

// RequireEqualStatus asserts that two gRPC statuses are equal.
func RequireEqualStatus(t *testing.T, want, got error) {
	t.Helper()
	RequireEqualProto(t, status.Convert(want).Proto(), status.Convert(got).Proto())
}

// RequirePrefixedStatus compares that two errors, assumed to be gRPC
// statuses, are the same, except got may have extra trailing
// characters in its message. This is useful for errors that embed
// messages generated by the operating system.
func RequirePrefixedStatus(t *testing.T, want, got error) {
	t.Helper()
	wantProto := status.Convert(want).Proto()
	gotProto := status.Convert(got).Proto()
	require.Condition(t, func() bool { return strings.HasPrefix(gotProto.GetMessage(), wantProto.GetMessage()) }, "Want message of status\n%v\nto have prefix\n%v", mustMarshalToString(t, gotProto), wantProto.GetMessage())
	gotProto.Message = wantProto.GetMessage()
	RequireEqualProto(t, wantProto, gotProto)
}

type eqStatusMatcher struct {
	status        error
	statusMessage proto.Message
}

// EqStatus is a gomock matcher for gRPC status equality.
func EqStatus(s error) gomock.Matcher {
	return &eqStatusMatcher{
		status:        s,
		statusMessage: status.Convert(s).Proto(),
	}
}

func (s *eqStatusMatcher) Matches(got interface{}) bool {
	if gotError, ok := got.(error); ok {
		return proto.Equal(s.statusMessage, status.Convert(gotError).Proto())
	}
	return false
}

func (s *eqStatusMatcher) String() string {
	return fmt.Sprintf("is status equal to %v", s.status)
}

// RandomDataForTest returns a byte slice of a given size, containing
// pseudorandom data derived from the name of the test. Tests thus
// always see the same data, while different tests see different data.
func RandomDataForTest(t *testing.T, sizeBytes int) []byte {
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)
	data := make([]byte, sizeBytes)
	if _, err := chacha.Read(data); err != nil {
		t.Fatal(err)
	}
	return data
}

func mustMarshalToString(t *testing.T, proto proto.Message) string {
	s, err := protojson.MarshalOptions{
		Multiline: true,
	}.Marshal(proto)
	if err != nil {
		t.Fatal(err)
	}
	return string(s)
}
