package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/3leaps/seqorch/pkg/manifest"
	"github.com/3leaps/seqorch/pkg/output"
	"github.com/3leaps/seqorch/pkg/provider"
	"github.com/3leaps/seqorch/pkg/provider/file"
	"github.com/3leaps/seqorch/pkg/provider/s3"
)

// Report is a JSONL run report bound to its destination. Records for a
// file or object destination are buffered and published by Publish, so a
// partial report never appears at the destination.
type Report struct {
	*output.JSONLWriter

	cfg  manifest.ReportConfig
	dest *provider.Destination
	buf  *bytes.Buffer
}

// OpenReport prepares a report for cfg.Destination. "stdout" (or empty)
// streams records to stdout as they are written.
func OpenReport(cfg manifest.ReportConfig, stdout io.Writer, runID, qiitaJobID string) (*Report, error) {
	d := strings.TrimSpace(cfg.Destination)
	if d == "" || d == "-" || strings.EqualFold(d, manifest.DefaultDestination) {
		return &Report{JSONLWriter: output.NewJSONLWriter(stdout, runID, qiitaJobID), cfg: cfg}, nil
	}

	dest, err := provider.ParseDestination(d)
	if err != nil {
		return nil, fmt.Errorf("report destination: %w", err)
	}
	buf := &bytes.Buffer{}
	return &Report{
		JSONLWriter: output.NewJSONLWriter(buf, runID, qiitaJobID),
		cfg:         cfg,
		dest:        dest,
		buf:         buf,
	}, nil
}

// Destination returns where the report is published, or "stdout".
func (r *Report) Destination() string {
	if r.dest == nil {
		return manifest.DefaultDestination
	}
	return r.dest.String()
}

// Publish closes the writer and uploads buffered records. It is a no-op
// beyond Close for stdout reports.
func (r *Report) Publish(ctx context.Context) error {
	if err := r.Close(); err != nil {
		return err
	}
	if r.dest == nil {
		return nil
	}

	p, err := openProvider(ctx, r.dest, r.cfg)
	if err != nil {
		return fmt.Errorf("open report destination %s: %w", r.dest, err)
	}
	defer func() { _ = p.Close() }()

	size := int64(r.buf.Len())
	if err := p.Put(ctx, r.dest.Key, bytes.NewReader(r.buf.Bytes()), size); err != nil {
		return fmt.Errorf("publish report to %s: %w", r.dest, err)
	}
	return nil
}

// openProvider is replaced in tests.
var openProvider = func(ctx context.Context, dest *provider.Destination, cfg manifest.ReportConfig) (provider.Provider, error) {
	switch dest.Provider {
	case provider.ProviderFile:
		return file.New(file.Config{BaseDir: dest.Bucket})
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:         dest.Bucket,
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			Profile:        cfg.Profile,
			ForcePathStyle: cfg.Endpoint != "",
		})
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedProvider, dest.Provider)
	}
}
