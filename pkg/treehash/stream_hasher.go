package treehash

import (
	"context"
	"io"

	"github.com/buildbarn/bb-treehash/pkg/leafhash"
	"github.com/buildbarn/bb-treehash/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	streamHasherBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "stream_hasher_bytes_total",
			Help:      "Total number of bytes read from streams that were hashed.",
		},
		[]string{"engine"})
	streamHasherBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "stream_hasher_blocks_total",
			Help:      "Total number of non-empty blocks whose leaves were hashed.",
		},
		[]string{"engine"})
	streamHasherStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "treehash",
			Name:      "stream_hasher_streams_total",
			Help:      "Total number of streams hashed.",
		},
		[]string{"engine", "grpc_code"})
)

func init() {
	prometheus.MustRegister(streamHasherBytesTotal)
	prometheus.MustRegister(streamHasherBlocksTotal)
	prometheus.MustRegister(streamHasherStreamsTotal)
}

// StreamHasher computes the Digest of a stream.
type StreamHasher interface {
	HashStream(ctx context.Context, r io.Reader) (Digest, error)
}

// checkBlockSize validates that leaves never straddle the boundary
// between two blocks.
func checkBlockSize(blockSizeBytes int) error {
	if blockSizeBytes <= 0 || blockSizeBytes%leafhash.LeafSizeBytes != 0 {
		return status.Errorf(codes.InvalidArgument, "Block size must be a positive multiple of %d bytes, not %d", leafhash.LeafSizeBytes, blockSizeBytes)
	}
	return nil
}

// readBlock fills a block with data from the stream. Because blocks
// are filled entirely, leaf boundaries only depend on the position in
// the stream. A short read therefore only occurs at the end of the
// stream.
func readBlock(r io.Reader, block []byte) (int, error) {
	n, err := io.ReadFull(r, block)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	} else if err != nil {
		return 0, util.StatusWrap(err, "Failed to read input")
	}
	return n, nil
}

// streamMetrics holds the counters of a single engine.
type streamMetrics struct {
	engine      string
	bytesTotal  prometheus.Counter
	blocksTotal prometheus.Counter
}

func newStreamMetrics(engine string) streamMetrics {
	return streamMetrics{
		engine:      engine,
		bytesTotal:  streamHasherBytesTotal.WithLabelValues(engine),
		blocksTotal: streamHasherBlocksTotal.WithLabelValues(engine),
	}
}

func (m *streamMetrics) blockHashed(sizeBytes int) {
	m.bytesTotal.Add(float64(sizeBytes))
	m.blocksTotal.Inc()
}

func (m *streamMetrics) streamCompleted(err error) {
	streamHasherStreamsTotal.WithLabelValues(m.engine, status.Code(err).String()).Inc()
}
