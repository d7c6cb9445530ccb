package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hybrid-ids/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flows (
    id BIGSERIAL PRIMARY KEY,
    window_start TIMESTAMPTZ NOT NULL,
    window_end   TIMESTAMPTZ NOT NULL,
    src_ip TEXT,
    dst_ip TEXT,
    protocol TEXT,
    pkt_count BIGINT DEFAULT 0,
    byte_count BIGINT DEFAULT 0,
    unique_dst_ports BIGINT DEFAULT 0,
    syn_count BIGINT DEFAULT 0,
    rst_count BIGINT DEFAULT 0,
    dns_query_count BIGINT DEFAULT 0,
    failed_login_count BIGINT DEFAULT 0,
    features_json JSONB
);

CREATE TABLE IF NOT EXISTS alerts (
    id BIGSERIAL PRIMARY KEY,
    time TIMESTAMPTZ NOT NULL,
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    confidence DOUBLE PRECISION DEFAULT 0.5,
    src_ip TEXT,
    dst_ip TEXT,
    evidence_json JSONB
);

CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(time);
CREATE INDEX IF NOT EXISTS idx_flows_window ON flows(window_start, window_end);
`

const alertColumns = `id, time, alert_type, severity, confidence, src_ip, dst_ip, evidence_json`

type PostgresConfig struct {
	URL             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
}

// PostgresStore keeps flows and alerts in PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "hybrid-ids"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	logger.WithField("max_conns", poolConfig.MaxConns).Info("Connected to PostgreSQL and ensured schema exists")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) AddFlow(ctx context.Context, flow model.Flow) (int64, error) {
	features, err := flow.FeaturesJSON()
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO flows (window_start, window_end, src_ip, dst_ip, protocol,
			pkt_count, byte_count, unique_dst_ports, syn_count, rst_count,
			dns_query_count, failed_login_count, features_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		flow.WindowStart, flow.WindowEnd, flow.SrcIP, flow.DstIP, flow.Protocol,
		flow.PktCount, flow.ByteCount, flow.UniqueDstPorts, flow.SynCount, flow.RstCount,
		flow.DNSQueryCount, flow.FailedLoginCount, features,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert flow: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) AddAlert(ctx context.Context, alert model.Alert) (int64, error) {
	evidence, err := alert.EvidenceJSON()
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO alerts (time, alert_type, severity, confidence, src_ip, dst_ip, evidence_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		alert.Time, string(alert.Type), alert.Severity, alert.Confidence, alert.SrcIP, alert.DstIP, evidence,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LatestAlerts(ctx context.Context, limit int, filter AlertFilter) ([]StoredAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE ($1::text = '' OR severity = $1) AND ($2::text = '' OR alert_type = $2)
		ORDER BY time DESC, id DESC
		LIMIT $3`,
		filter.Severity, filter.Type, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	result := make([]StoredAlert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AlertByID(ctx context.Context, id int64) (*StoredAlert, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

func (s *PostgresStore) LatestFlows(ctx context.Context, limit int) ([]StoredFlow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, window_start, window_end, src_ip, dst_ip, protocol,
			pkt_count, byte_count, unique_dst_ports, syn_count, rst_count,
			dns_query_count, failed_login_count, features_json
		FROM flows ORDER BY id DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	result := make([]StoredFlow, 0)
	for rows.Next() {
		var f StoredFlow
		var features []byte
		if err := rows.Scan(&f.ID, &f.WindowStart, &f.WindowEnd, &f.SrcIP, &f.DstIP, &f.Protocol,
			&f.PktCount, &f.ByteCount, &f.UniqueDstPorts, &f.SynCount, &f.RstCount,
			&f.DNSQueryCount, &f.FailedLoginCount, &features); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		if len(features) > 0 {
			if err := json.Unmarshal(features, &f.Samples); err != nil {
				return nil, fmt.Errorf("decode features of flow %d: %w", f.ID, err)
			}
		}
		f.WindowStart = f.WindowStart.UTC()
		f.WindowEnd = f.WindowEnd.UTC()
		result = append(result, f)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SeverityCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT severity, COUNT(*) FROM alerts GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("query severity counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var severity string
		var n int64
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanAlert(row pgx.Row) (*StoredAlert, error) {
	var a StoredAlert
	var alertType string
	var evidence []byte
	if err := row.Scan(&a.ID, &a.Time, &alertType, &a.Severity, &a.Confidence, &a.SrcIP, &a.DstIP, &evidence); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Type = model.AlertType(alertType)
	a.Time = a.Time.UTC()
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
			return nil, fmt.Errorf("decode evidence of alert %d: %w", a.ID, err)
		}
	}
	return &a, nil
}
