// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSExporter publishes encoded pages to a NATS subject. Publish is
// fire-and-forget, which matches the export contract: no retries, no
// acknowledgements.
type NATSExporter struct {
	nc      *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSExporter connects to the NATS server.
func NewNATSExporter(url, subject string, logger *zap.Logger) (*NATSExporter, error) {
	nc, err := nats.Connect(url,
		nats.Name("ktap"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("export: connecting to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return &NATSExporter{nc: nc, subject: subject, logger: logger}, nil
}

// ExportPage publishes one encoded page.
func (e *NATSExporter) ExportPage(_ context.Context, page []byte) error {
	return e.nc.Publish(e.subject, page)
}

// Shutdown drains and closes the connection.
func (e *NATSExporter) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- e.nc.Drain() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		e.nc.Close()
		return ctx.Err()
	}
}
