// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mbeema/ktap/pkg/batch"
)

// Exporter delivers one encoded batch page to an external sink. Delivery
// is best-effort, one-way, and unacknowledged.
type Exporter interface {
	ExportPage(ctx context.Context, page []byte) error
	Shutdown(ctx context.Context) error
}

// StdoutExporter prints page summaries to stdout for debugging.
type StdoutExporter struct {
	logger *zap.Logger
}

// NewStdoutExporter creates a stdout exporter.
func NewStdoutExporter(logger *zap.Logger) *StdoutExporter {
	return &StdoutExporter{logger: logger}
}

// ExportPage decodes the page and prints one line per record.
func (e *StdoutExporter) ExportPage(_ context.Context, page []byte) error {
	p, err := batch.DecodePage(page)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "[PAGE] worker=%d idx=%d records=%d\n", p.Owner, p.Idx, len(p.Records))
	for i := range p.Records {
		r := &p.Records[i]
		fmt.Fprintf(os.Stdout, "  [TX] %s:%d -> %s:%d api=%d v=%d corr=%d topic=%s seq=%d\n",
			r.Tup.SrcAddr(), r.Tup.Sport, r.Tup.DstAddr(), r.Tup.Dport,
			r.APIKey, r.APIVersion, r.CorrelationID, r.TopicName(), r.TCPSeq)
	}
	return nil
}

// Shutdown implements Exporter.
func (e *StdoutExporter) Shutdown(_ context.Context) error { return nil }
