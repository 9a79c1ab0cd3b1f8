package storage

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

type InfluxConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// NewInfluxDialer returns a dialer that creates one client per call and
// checks it with a ping before handing it out.
func NewInfluxDialer(cfg InfluxConfig) ports.Dialer {
	return func(ctx context.Context) (ports.Backend, error) {
		opts := influxdb2.DefaultOptions()
		if cfg.Timeout > 0 {
			opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
		}
		client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

		b := &InfluxBackend{
			writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
			ping:   client.Ping,
			close:  client.Close,
		}
		if err := b.Ping(ctx); err != nil {
			client.Close()
			return nil, errors.WithMessagef(err, "connect %s", cfg.URL)
		}
		return b, nil
	}
}

// InfluxBackend writes one measurement per kind, tagged by node address.
type InfluxBackend struct {
	writer pointWriter
	ping   func(ctx context.Context) (bool, error)
	close  func()
}

func (b *InfluxBackend) Ping(ctx context.Context) error {
	ok, err := b.ping(ctx)
	if err != nil {
		return errors.Wrap(err, "influx ping")
	}
	if !ok {
		return errors.New("influx ping: server not ready")
	}
	return nil
}

func (b *InfluxBackend) Close() error {
	if b.close != nil {
		b.close()
	}
	return nil
}

func (b *InfluxBackend) write(ctx context.Context, measurement string, points []*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := b.writer.WritePoint(ctx, points...); err != nil {
		return errors.Wrapf(err, "write %s", measurement)
	}
	return nil
}

func (b *InfluxBackend) PutReceived(ctx context.Context, item domain.WorkItem) error {
	return b.write(ctx, "received_packets", []*write.Point{receivedPoint(item)})
}

func (b *InfluxBackend) PutAdvertiser(ctx context.Context, m *domain.Advertiser) error {
	return b.write(ctx, "advertiser", advertiserPoints(m))
}

func (b *InfluxBackend) PutBootDiagnostics(ctx context.Context, m *domain.BootDiagnostics) error {
	return b.write(ctx, "boot_diagnostics", []*write.Point{bootPoint(m)})
}

func (b *InfluxBackend) PutNeighborDiagnostics(ctx context.Context, m *domain.NeighborDiagnostics) error {
	return b.write(ctx, "neighbor_diagnostics", neighborPoints(m))
}

func (b *InfluxBackend) PutNodeDiagnostics(ctx context.Context, m *domain.NodeDiagnostics) error {
	return b.write(ctx, "node_diagnostics", []*write.Point{nodePoint(m)})
}

func (b *InfluxBackend) PutTestNW(ctx context.Context, m *domain.TestNW) error {
	return b.write(ctx, "testnw", testNWPoints(m))
}

func (b *InfluxBackend) PutTrafficDiagnostics(ctx context.Context, m *domain.TrafficDiagnostics) error {
	return b.write(ctx, "traffic_diagnostics", []*write.Point{trafficPoint(m)})
}

func (b *InfluxBackend) PutDiagnostics(ctx context.Context, m *domain.Diagnostics) error {
	p := diagnosticsPoint(m)
	if p == nil {
		return nil
	}
	return b.write(ctx, "diagnostics", []*write.Point{p})
}

func addr(a domain.NodeAddress) string { return strconv.FormatUint(uint64(a), 10) }

func nodeTags(h *domain.Header) map[string]string {
	tags := map[string]string{"src": addr(h.SourceAddress)}
	if h.GatewayID != "" {
		tags["gw_id"] = h.GatewayID
	}
	if h.SinkID != "" {
		tags["sink_id"] = h.SinkID
	}
	return tags
}

func receivedPoint(item domain.WorkItem) *write.Point {
	h := item.Meta()
	tags := nodeTags(h)
	tags["kind"] = item.Kind().String()
	tags["dst"] = addr(h.DestinationAddress)
	return write.NewPoint("received_packets", tags, map[string]interface{}{
		"network_id":     int64(h.NetworkID),
		"src_ep":         int64(h.SourceEndpoint),
		"dst_ep":         int64(h.DestinationEndpoint),
		"travel_time_ms": h.TravelTime.Milliseconds(),
		"qos":            int64(h.QoS),
		"hop_count":      int64(h.HopCount),
		"data_size":      int64(h.DataSize),
	}, h.ReceivedAt)
}

func advertiserPoints(m *domain.Advertiser) []*write.Point {
	points := make([]*write.Point, 0, len(m.Entries))
	for _, e := range m.Entries {
		tags := nodeTags(&m.Header)
		tags["address"] = addr(e.Address)
		ts := m.ReceivedAt
		if !e.SeenAt.IsZero() {
			ts = e.SeenAt
		}
		points = append(points, write.NewPoint("advertiser", tags, map[string]interface{}{"rss": e.RSS}, ts))
	}
	return points
}

func bootPoint(m *domain.BootDiagnostics) *write.Point {
	return write.NewPoint("boot_diagnostics", nodeTags(&m.Header), map[string]interface{}{
		"boot_count":       int64(m.BootCount),
		"node_role":        int64(m.NodeRole),
		"firmware_version": m.FirmwareVersion,
		"scratchpad_seq":   int64(m.ScratchpadSequence),
		"hw_magic":         int64(m.HWMagic),
		"stack_profile":    int64(m.StackProfile),
		"otap_enabled":     m.OTAPEnabled,
		"file_line":        int64(m.FileLine),
		"file_name_hash":   int64(m.FileNameHash),
	}, m.ReceivedAt)
}

func neighborPoints(m *domain.NeighborDiagnostics) []*write.Point {
	points := make([]*write.Point, 0, len(m.Neighbors))
	for _, n := range m.Neighbors {
		tags := nodeTags(&m.Header)
		tags["address"] = addr(n.Address)
		points = append(points, write.NewPoint("neighbor_diagnostics", tags, map[string]interface{}{
			"cluster_channel": int64(n.ClusterChannel),
			"radio_power":     int64(n.RadioPower),
			"node_info":       int64(n.NodeInfo),
			"rss":             n.RSS,
		}, m.ReceivedAt))
	}
	return points
}

func nodePoint(m *domain.NodeDiagnostics) *write.Point {
	return write.NewPoint("node_diagnostics", nodeTags(&m.Header), map[string]interface{}{
		"access_cycle_ms":      int64(m.AccessCycle),
		"role":                 int64(m.NodeRole),
		"voltage":              m.Voltage,
		"buff_usage_max":       int64(m.BufferUsageMax),
		"buff_usage_average":   int64(m.BufferUsageAverage),
		"mean_queing_time_ms":  int64(m.MeanQueueingTime),
		"dropped_packets":      int64(m.DroppedPackets),
		"cluster_members":      int64(m.ClusterMembers),
		"blacklisted_channels": int64(m.BlacklistedChannels),
	}, m.ReceivedAt)
}

func testNWPoints(m *domain.TestNW) []*write.Point {
	points := make([]*write.Point, 0, len(m.Rows))
	for _, r := range m.Rows {
		tags := nodeTags(&m.Header)
		tags["test_id"] = strconv.FormatUint(uint64(m.TestID), 10)
		tags["test_data_id"] = strconv.FormatUint(uint64(r.TestDataID), 10)
		fields := map[string]interface{}{"sequence": int64(r.Sequence)}
		for i, v := range r.Values {
			fields["value_"+strconv.Itoa(i)] = v
		}
		points = append(points, write.NewPoint("testnw", tags, fields, m.ReceivedAt))
	}
	return points
}

func trafficPoint(m *domain.TrafficDiagnostics) *write.Point {
	return write.NewPoint("traffic_diagnostics", nodeTags(&m.Header), map[string]interface{}{
		"access_cycles":       int64(m.AccessCycles),
		"cluster_channel":     int64(m.ClusterChannel),
		"channel_reliability": int64(m.ChannelReliability),
		"rx_count":            int64(m.RxCount),
		"tx_count":            int64(m.TxCount),
		"aloha_rx":            int64(m.AlohaRx),
		"resv_rx":             int64(m.ReservedRx),
		"ack_count":           int64(m.AckCount),
		"unicast_count":       int64(m.UnicastCount),
		"broadcast_count":     int64(m.BroadcastCount),
	}, m.ReceivedAt)
}

// diagnosticsPoint returns nil when there is no field to write, since a
// point without fields is rejected by the server.
func diagnosticsPoint(m *domain.Diagnostics) *write.Point {
	if len(m.Fields) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(m.Fields))
	for k, v := range m.Fields {
		fields[sanitizeFieldKey(k)] = v
	}
	return write.NewPoint("diagnostics", nodeTags(&m.Header), fields, m.ReceivedAt)
}

var fieldKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeFieldKey(k string) string {
	k = strings.TrimSpace(k)
	k = fieldKeyRe.ReplaceAllString(k, "_")
	k = strings.Trim(k, "_")
	if k == "" {
		return "field"
	}
	return k
}

var _ ports.Backend = (*InfluxBackend)(nil)
