// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mbeema/ktap/pkg/batch"
	"github.com/mbeema/ktap/pkg/config"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS kafka_requests (
    Timestamp     DateTime,
    Worker        UInt32,
    PageIdx       UInt64,
    SrcIP         String,
    DstIP         String,
    SrcPort       UInt16,
    DstPort       UInt16,
    PID           UInt32,
    ProcessName   String,
    NetNS         UInt32,
    APIKey        Int16,
    APIVersion    Int16,
    CorrelationID Int32,
    Topic         String,
    TCPSeq        UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Topic, Timestamp);
`

// ClickHouseSink persists decoded records into the kafka_requests table,
// one insert batch per exported page.
type ClickHouseSink struct {
	conn    driver.Conn
	resolve *ProcResolver
}

// NewClickHouseSink connects to ClickHouse and ensures the table exists.
func NewClickHouseSink(cfg config.ClickHouseConfig, resolve *ProcResolver) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("collector: connecting to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("collector: pinging clickhouse: %w", err)
	}
	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		return nil, fmt.Errorf("collector: creating table: %w", err)
	}
	return &ClickHouseSink{conn: conn, resolve: resolve}, nil
}

// WritePage inserts every record of one decoded page.
func (s *ClickHouseSink) WritePage(ctx context.Context, p *batch.ExportedPage, at time.Time) error {
	b, err := s.conn.PrepareBatch(ctx, "INSERT INTO kafka_requests")
	if err != nil {
		return fmt.Errorf("collector: preparing batch: %w", err)
	}
	for i := range p.Records {
		r := &p.Records[i]
		procName := ""
		if s.resolve != nil {
			procName = s.resolve.Name(r.Tup.PID)
		}
		if err := b.Append(
			at,
			p.Owner,
			p.Idx,
			r.Tup.SrcAddr().String(),
			r.Tup.DstAddr().String(),
			r.Tup.Sport,
			r.Tup.Dport,
			r.Tup.PID,
			procName,
			r.Tup.NetNS,
			r.APIKey,
			r.APIVersion,
			r.CorrelationID,
			r.TopicName(),
			r.TCPSeq,
		); err != nil {
			return fmt.Errorf("collector: appending row: %w", err)
		}
	}
	return b.Send()
}

// Close shuts down the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
