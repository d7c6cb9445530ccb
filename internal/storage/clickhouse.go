package storage

import (
	"context"
	"fmt"

	"hybrid-ids/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

const createFlowsTable = `
CREATE TABLE IF NOT EXISTS ids_flows (
    WindowStart      DateTime,
    WindowEnd        DateTime,
    SrcIP            Nullable(String),
    DstIP            Nullable(String),
    Protocol         Nullable(String),
    PktCount         Int64,
    ByteCount        Int64,
    UniqueDstPorts   Int64,
    SynCount         Int64,
    RstCount         Int64,
    DNSQueryCount    Int64,
    FailedLoginCount Int64,
    Features         String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(WindowStart)
ORDER BY (WindowStart);
`

type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// ClickHouseFlowWriter exports flow batches to ClickHouse for long-range analysis
type ClickHouseFlowWriter struct {
	conn   driver.Conn
	logger *logrus.Logger
}

func NewClickHouseFlowWriter(ctx context.Context, cfg ClickHouseConfig, logger *logrus.Logger) (*ClickHouseFlowWriter, error) {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
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
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createFlowsTable); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Connected to ClickHouse and ensured ids_flows exists")

	return &ClickHouseFlowWriter{conn: conn, logger: logger}, nil
}

func (w *ClickHouseFlowWriter) WriteFlows(ctx context.Context, flows []model.Flow) error {
	if len(flows) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO ids_flows")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i := range flows {
		f := &flows[i]
		features, err := f.FeaturesJSON()
		if err != nil {
			return err
		}
		err = batch.Append(
			f.WindowStart,
			f.WindowEnd,
			f.SrcIP,
			f.DstIP,
			f.Protocol,
			f.PktCount,
			f.ByteCount,
			f.UniqueDstPorts,
			f.SynCount,
			f.RstCount,
			f.DNSQueryCount,
			f.FailedLoginCount,
			features,
		)
		if err != nil {
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	w.logger.Debugf("Wrote %d flows to ClickHouse", len(flows))
	return nil
}

func (w *ClickHouseFlowWriter) Close() error {
	return w.conn.Close()
}
