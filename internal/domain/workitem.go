package domain

import (
	"time"

	"github.com/pkg/errors"
)

// NodeAddress identifies a mesh node within a network.
type NodeAddress uint32

// Kind tags the closed set of work items produced by the upstream decoder.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAdvertiser
	KindBootDiagnostics
	KindNeighborDiagnostics
	KindNodeDiagnostics
	KindTestNW
	KindTrafficDiagnostics
	KindDiagnostics
	KindDataPacket
)

var kindNames = map[Kind]string{
	KindAdvertiser:          "advertiser",
	KindBootDiagnostics:     "boot_diagnostics",
	KindNeighborDiagnostics: "neighbor_diagnostics",
	KindNodeDiagnostics:     "node_diagnostics",
	KindTestNW:              "testnw",
	KindTrafficDiagnostics:  "traffic_diagnostics",
	KindDiagnostics:         "diagnostics",
	KindDataPacket:          "data_packet",
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindAdvertiser,
		KindBootDiagnostics,
		KindNeighborDiagnostics,
		KindNodeDiagnostics,
		KindTestNW,
		KindTrafficDiagnostics,
		KindDiagnostics,
		KindDataPacket,
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, errors.Errorf("unknown work item kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return errors.Errorf("unknown work item kind %q", string(text))
}

// Header carries the gateway metadata shared by every decoded packet.
type Header struct {
	GatewayID           string        `json:"gw_id"`
	SinkID              string        `json:"sink_id"`
	NetworkID           uint32        `json:"network_id"`
	SourceAddress       NodeAddress   `json:"source_address"`
	DestinationAddress  NodeAddress   `json:"destination_address"`
	SourceEndpoint      uint8         `json:"source_endpoint"`
	DestinationEndpoint uint8         `json:"destination_endpoint"`
	ReceivedAt          time.Time     `json:"rx_time"`
	TravelTime          time.Duration `json:"travel_time"`
	QoS                 uint8         `json:"qos"`
	HopCount            uint8         `json:"hop_count"`
	DataSize            int           `json:"data_size"`
}

// WorkItem is a decoded gateway message waiting to be persisted.
// The set of implementations is closed to this package.
type WorkItem interface {
	Kind() Kind
	Meta() *Header
	workItem()
}

// Address is the node that originated the item.
func (h *Header) Address() NodeAddress { return h.SourceAddress }

// Timestamp is the time the gateway received the item.
func (h *Header) Timestamp() time.Time { return h.ReceivedAt }

// AdvertiserEntry is one neighbour seen by an advertiser node.
type AdvertiserEntry struct {
	Address NodeAddress `json:"address"`
	RSS     float64     `json:"rss"`
	SeenAt  time.Time   `json:"time"`
}

type Advertiser struct {
	Header
	Entries []AdvertiserEntry `json:"entries"`
}

type BootDiagnostics struct {
	Header
	BootCount          uint32 `json:"boot_count"`
	NodeRole           uint8  `json:"node_role"`
	FirmwareVersion    string `json:"firmware_version"`
	ScratchpadSequence int    `json:"scratchpad_sequence"`
	HWMagic            uint32 `json:"hw_magic"`
	StackProfile       uint32 `json:"stack_profile"`
	OTAPEnabled        bool   `json:"otap_enabled"`
	FileLine           uint32 `json:"file_line_num"`
	FileNameHash       uint32 `json:"file_name_hash"`
}

// Neighbor is one row of a neighbour diagnostics report.
type Neighbor struct {
	Address        NodeAddress `json:"address"`
	ClusterChannel uint8       `json:"cluster_channel"`
	RadioPower     int8        `json:"radio_power"`
	NodeInfo       uint8       `json:"node_info"`
	RSS            float64     `json:"rss"`
}

type NeighborDiagnostics struct {
	Header
	Neighbors []Neighbor `json:"neighbors"`
}

type NodeDiagnostics struct {
	Header
	AccessCycle         uint32  `json:"access_cycle_ms"`
	NodeRole            uint8   `json:"role"`
	Voltage             float64 `json:"voltage"`
	BufferUsageMax      uint8   `json:"buff_usage_max"`
	BufferUsageAverage  uint8   `json:"buff_usage_average"`
	MeanQueueingTime    uint32  `json:"mean_queing_time_ms"`
	DroppedPackets      uint32  `json:"dropped_packets"`
	ClusterMembers      uint8   `json:"cluster_members"`
	BlacklistedChannels uint8   `json:"blacklisted_channels"`
}

// TestNWRow is one measurement row of a test network packet.
type TestNWRow struct {
	TestDataID uint32  `json:"test_data_id"`
	Sequence   uint32  `json:"sequence"`
	Values     []int64 `json:"values"`
}

type TestNW struct {
	Header
	TestID uint32      `json:"test_id"`
	Rows   []TestNWRow `json:"rows"`
}

type TrafficDiagnostics struct {
	Header
	AccessCycles       uint32 `json:"access_cycles"`
	ClusterChannel     uint8  `json:"cluster_channel"`
	ChannelReliability uint8  `json:"channel_reliability"`
	RxCount            uint32 `json:"rx_count"`
	TxCount            uint32 `json:"tx_count"`
	AlohaRx            uint32 `json:"aloha_rx"`
	ReservedRx         uint32 `json:"resv_rx"`
	AckCount           uint32 `json:"ack_count"`
	UnicastCount       uint32 `json:"unicast_count"`
	BroadcastCount     uint32 `json:"broadcast_count"`
}

// Diagnostics is a generic diagnostics report decoded against a field table.
type Diagnostics struct {
	Header
	Fields map[string]float64 `json:"fields"`
}

// DataPacket is any other application packet; it only gets the received record.
type DataPacket struct {
	Header
	Payload []byte `json:"payload"`
}

func (*Advertiser) Kind() Kind          { return KindAdvertiser }
func (*BootDiagnostics) Kind() Kind     { return KindBootDiagnostics }
func (*NeighborDiagnostics) Kind() Kind { return KindNeighborDiagnostics }
func (*NodeDiagnostics) Kind() Kind     { return KindNodeDiagnostics }
func (*TestNW) Kind() Kind              { return KindTestNW }
func (*TrafficDiagnostics) Kind() Kind  { return KindTrafficDiagnostics }
func (*Diagnostics) Kind() Kind         { return KindDiagnostics }
func (*DataPacket) Kind() Kind          { return KindDataPacket }

func (m *Advertiser) Meta() *Header          { return &m.Header }
func (m *BootDiagnostics) Meta() *Header     { return &m.Header }
func (m *NeighborDiagnostics) Meta() *Header { return &m.Header }
func (m *NodeDiagnostics) Meta() *Header     { return &m.Header }
func (m *TestNW) Meta() *Header              { return &m.Header }
func (m *TrafficDiagnostics) Meta() *Header  { return &m.Header }
func (m *Diagnostics) Meta() *Header         { return &m.Header }
func (m *DataPacket) Meta() *Header          { return &m.Header }

func (*Advertiser) workItem()          {}
func (*BootDiagnostics) workItem()     {}
func (*NeighborDiagnostics) workItem() {}
func (*NodeDiagnostics) workItem()     {}
func (*TestNW) workItem()              {}
func (*TrafficDiagnostics) workItem()  {}
func (*Diagnostics) workItem()         {}
func (*DataPacket) workItem()          {}

// NewItem returns a zero value of the concrete type for kind.
func NewItem(kind Kind) (WorkItem, error) {
	switch kind {
	case KindAdvertiser:
		return &Advertiser{}, nil
	case KindBootDiagnostics:
		return &BootDiagnostics{}, nil
	case KindNeighborDiagnostics:
		return &NeighborDiagnostics{}, nil
	case KindNodeDiagnostics:
		return &NodeDiagnostics{}, nil
	case KindTestNW:
		return &TestNW{}, nil
	case KindTrafficDiagnostics:
		return &TrafficDiagnostics{}, nil
	case KindDiagnostics:
		return &Diagnostics{}, nil
	case KindDataPacket:
		return &DataPacket{}, nil
	}
	return nil, errors.Errorf("unknown work item kind %d", uint8(kind))
}
