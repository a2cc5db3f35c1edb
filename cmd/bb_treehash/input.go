package main

import (
	"io"
	"os"

	"github.com/buildbarn/bb-treehash/pkg/util"
)

// openInput opens the file to be hashed. The path "-" denotes standard
// input.
func openInput(path, decompression string) (io.ReadCloser, error) {
	var r io.ReadCloser
	if path == "-" {
		r = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, util.StatusWrapf(err, "Failed to open %#v", path)
		}
		r = f
	}

	if decompression == "zstd" {
		decompressed, err := util.NewZstdReadCloser(r)
		if err != nil {
			r.Close()
			return nil, util.StatusWrapf(err, "Failed to create Zstandard decoder for %#v", path)
		}
		r = decompressed
	}
	return r, nil
}
