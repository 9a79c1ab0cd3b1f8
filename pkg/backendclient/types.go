package backendclient

import (
	"github.com/PFigs/backend-client/internal/app/pipeline"
	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

// WorkItem is one decoded gateway packet. The concrete types below are the
// closed set the router knows how to persist.
type WorkItem = domain.WorkItem

type (
	Kind                = domain.Kind
	NodeAddress         = domain.NodeAddress
	Header              = domain.Header
	Advertiser          = domain.Advertiser
	AdvertiserEntry     = domain.AdvertiserEntry
	BootDiagnostics     = domain.BootDiagnostics
	NeighborDiagnostics = domain.NeighborDiagnostics
	NodeDiagnostics     = domain.NodeDiagnostics
	TestNW              = domain.TestNW
	TrafficDiagnostics  = domain.TrafficDiagnostics
	Diagnostics         = domain.Diagnostics
	DataPacket          = domain.DataPacket
)

// Collector streams decoded items from an upstream source into the runtime.
type Collector = ports.Collector

// WorkQueue is the bounded queue shared by producers and workers.
type WorkQueue = ports.WorkQueue

// Backend is one storage connection. The runtime asks its Dialer for a new
// one per worker and after every lost connection.
type Backend = ports.Backend

type Dialer = ports.Dialer

// Observability receives the runtime's logs and metrics.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Tap sees every item accepted by the runtime before it is queued.
type Tap = pipeline.Tap

// DecodeEnvelope parses the JSON envelope produced by the gateway decoder.
func DecodeEnvelope(raw []byte) (WorkItem, error) {
	return domain.DecodeEnvelope(raw)
}

// EncodeEnvelope is the inverse of DecodeEnvelope.
func EncodeEnvelope(item WorkItem) ([]byte, error) {
	return domain.EncodeEnvelope(item)
}
