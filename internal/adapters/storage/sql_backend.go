package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// Tables names the table each kind is written to.
type Tables struct {
	Received            string `yaml:"received"`
	Advertiser          string `yaml:"advertiser"`
	BootDiagnostics     string `yaml:"boot_diagnostics"`
	NeighborDiagnostics string `yaml:"neighbor_diagnostics"`
	NodeDiagnostics     string `yaml:"node_diagnostics"`
	TestNW              string `yaml:"testnw"`
	TrafficDiagnostics  string `yaml:"traffic_diagnostics"`
	Diagnostics         string `yaml:"diagnostics"`
}

func (t *Tables) ApplyDefaults() {
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&t.Received, "received_packets")
	set(&t.Advertiser, "advertiser")
	set(&t.BootDiagnostics, "boot_diagnostics")
	set(&t.NeighborDiagnostics, "neighbor_diagnostics")
	set(&t.NodeDiagnostics, "node_diagnostics")
	set(&t.TestNW, "testnw")
	set(&t.TrafficDiagnostics, "traffic_diagnostics")
	set(&t.Diagnostics, "diagnostics")
}

// SQLConfig holds the connection settings of the Postgres/Timescale backend.
type SQLConfig struct {
	Hostname       string        `yaml:"hostname"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Database       string        `yaml:"database"`
	SSLMode        string        `yaml:"sslmode"`
	ConnectTimeout time.Duration `yaml:"connection_timeout"`
	Tables         Tables        `yaml:"tables"`
}

// DSN renders the config as a lib/pq connection URL.
func (c SQLConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Hostname, c.Port),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewSQLDialer returns a dialer that opens one private connection per call.
func NewSQLDialer(cfg SQLConfig) ports.Dialer {
	cfg.Tables.ApplyDefaults()
	dsn := cfg.DSN()
	return func(ctx context.Context) (ports.Backend, error) {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres")
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "connect %s:%d", cfg.Hostname, cfg.Port)
		}
		return NewSQLBackend(db, cfg.Tables), nil
	}
}

// SQLBackend writes work items with one INSERT per kind.
type SQLBackend struct {
	db     *sql.DB
	tables Tables
}

func NewSQLBackend(db *sql.DB, tables Tables) *SQLBackend {
	tables.ApplyDefaults()
	return &SQLBackend{db: db, tables: tables}
}

func (s *SQLBackend) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLBackend) Close() error { return s.db.Close() }

func (s *SQLBackend) PutReceived(ctx context.Context, item domain.WorkItem) error {
	h := item.Meta()
	return s.insert(ctx, s.tables.Received,
		[]string{"kind", "gw_id", "sink_id", "network_id", "src", "dst", "src_ep", "dst_ep",
			"rx_time", "travel_time_ms", "qos", "hop_count", "data_size"},
		[]any{item.Kind().String(), h.GatewayID, h.SinkID, h.NetworkID, h.SourceAddress, h.DestinationAddress,
			h.SourceEndpoint, h.DestinationEndpoint, h.ReceivedAt, h.TravelTime.Milliseconds(), h.QoS, h.HopCount, h.DataSize},
	)
}

func (s *SQLBackend) PutAdvertiser(ctx context.Context, m *domain.Advertiser) error {
	rows := make([][]any, 0, len(m.Entries))
	for _, e := range m.Entries {
		rows = append(rows, []any{m.SourceAddress, m.ReceivedAt, e.Address, e.RSS, e.SeenAt})
	}
	return s.insert(ctx, s.tables.Advertiser,
		[]string{"src", "rx_time", "address", "rss", "seen_at"}, rows...)
}

func (s *SQLBackend) PutBootDiagnostics(ctx context.Context, m *domain.BootDiagnostics) error {
	return s.insert(ctx, s.tables.BootDiagnostics,
		[]string{"src", "rx_time", "boot_count", "node_role", "firmware_version", "scratchpad_seq",
			"hw_magic", "stack_profile", "otap_enabled", "file_line", "file_name_hash"},
		[]any{m.SourceAddress, m.ReceivedAt, m.BootCount, m.NodeRole, m.FirmwareVersion, m.ScratchpadSequence,
			m.HWMagic, m.StackProfile, m.OTAPEnabled, m.FileLine, m.FileNameHash},
	)
}

func (s *SQLBackend) PutNeighborDiagnostics(ctx context.Context, m *domain.NeighborDiagnostics) error {
	rows := make([][]any, 0, len(m.Neighbors))
	for _, n := range m.Neighbors {
		rows = append(rows, []any{m.SourceAddress, m.ReceivedAt, n.Address, n.ClusterChannel, n.RadioPower, n.NodeInfo, n.RSS})
	}
	return s.insert(ctx, s.tables.NeighborDiagnostics,
		[]string{"src", "rx_time", "address", "cluster_channel", "radio_power", "node_info", "rss"}, rows...)
}

func (s *SQLBackend) PutNodeDiagnostics(ctx context.Context, m *domain.NodeDiagnostics) error {
	return s.insert(ctx, s.tables.NodeDiagnostics,
		[]string{"src", "rx_time", "access_cycle_ms", "role", "voltage", "buff_usage_max", "buff_usage_average",
			"mean_queing_time_ms", "dropped_packets", "cluster_members", "blacklisted_channels"},
		[]any{m.SourceAddress, m.ReceivedAt, m.AccessCycle, m.NodeRole, m.Voltage, m.BufferUsageMax, m.BufferUsageAverage,
			m.MeanQueueingTime, m.DroppedPackets, m.ClusterMembers, m.BlacklistedChannels},
	)
}

func (s *SQLBackend) PutTestNW(ctx context.Context, m *domain.TestNW) error {
	rows := make([][]any, 0, len(m.Rows))
	for _, r := range m.Rows {
		vals, err := json.Marshal(r.Values)
		if err != nil {
			return errors.Wrap(err, "marshal testnw values")
		}
		rows = append(rows, []any{m.SourceAddress, m.ReceivedAt, m.TestID, r.TestDataID, r.Sequence, vals})
	}
	return s.insert(ctx, s.tables.TestNW,
		[]string{"src", "rx_time", "test_id", "test_data_id", "sequence", "values"}, rows...)
}

func (s *SQLBackend) PutTrafficDiagnostics(ctx context.Context, m *domain.TrafficDiagnostics) error {
	return s.insert(ctx, s.tables.TrafficDiagnostics,
		[]string{"src", "rx_time", "access_cycles", "cluster_channel", "channel_reliability", "rx_count", "tx_count",
			"aloha_rx", "resv_rx", "ack_count", "unicast_count", "broadcast_count"},
		[]any{m.SourceAddress, m.ReceivedAt, m.AccessCycles, m.ClusterChannel, m.ChannelReliability, m.RxCount, m.TxCount,
			m.AlohaRx, m.ReservedRx, m.AckCount, m.UnicastCount, m.BroadcastCount},
	)
}

func (s *SQLBackend) PutDiagnostics(ctx context.Context, m *domain.Diagnostics) error {
	fields, err := json.Marshal(m.Fields)
	if err != nil {
		return errors.Wrap(err, "marshal diagnostics fields")
	}
	return s.insert(ctx, s.tables.Diagnostics,
		[]string{"src", "rx_time", "fields"},
		[]any{m.SourceAddress, m.ReceivedAt, fields},
	)
}

// insert writes rows with a single multi-row statement. No rows is a no-op.
func (s *SQLBackend) insert(ctx context.Context, table string, cols []string, rows ...[]any) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if len(row) != len(cols) {
			return errors.Errorf("%s: row %d has %d values for %d columns", table, i, len(row), len(cols))
		}
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := range row {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(len(args) + j + 1))
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return errors.Wrapf(err, "insert into %s", table)
	}
	return nil
}

var _ ports.Backend = (*SQLBackend)(nil)
