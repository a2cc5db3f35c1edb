package util

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/google/go-jsonnet"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnmarshalConfigurationFromFile reads a Jsonnet file, evaluates it and
// unmarshals the output into a configuration structure. The file "-"
// refers to standard input.
func UnmarshalConfigurationFromFile(path string, configuration any) error {
	// Read configuration file from disk or from stdin.
	var jsonnetInput []byte
	var err error
	if path == "-" {
		jsonnetInput, err = io.ReadAll(os.Stdin)
	} else {
		jsonnetInput, err = os.ReadFile(path)
	}
	if err != nil {
		return StatusWrapf(err, "Failed to read file contents")
	}
	return UnmarshalConfigurationFromSnippet(path, string(jsonnetInput), os.Environ(), configuration)
}

// UnmarshalConfigurationFromSnippet evaluates a Jsonnet snippet and
// unmarshals the output into a configuration structure. Environment
// variables, provided in "KEY=value" form, are made available through
// std.extVar(). Fields that are not part of the configuration
// structure are rejected.
func UnmarshalConfigurationFromSnippet(filename, snippet string, environment []string, configuration any) error {
	vm := jsonnet.MakeVM()
	for _, env := range environment {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			return status.Errorf(codes.InvalidArgument, "Invalid environment variable: %#v", env)
		}
		vm.ExtVar(parts[0], parts[1])
	}

	jsonnetOutput, err := vm.EvaluateAnonymousSnippet(filename, snippet)
	if err != nil {
		return StatusWrapWithCode(err, codes.InvalidArgument, "Failed to evaluate configuration")
	}

	// Configuration structures are plain Go structs with JSON tags
	// instead of generated protobuf messages, so encoding/json is
	// used where protojson.Unmarshal() would be used for messages.
	decoder := json.NewDecoder(bytes.NewReader([]byte(jsonnetOutput)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(configuration); err != nil {
		return StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal configuration")
	}
	return nil
}
