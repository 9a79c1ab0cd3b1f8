package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/PFigs/backend-client/internal/domain"
)

type recordingWriter struct {
	points []*write.Point
	err    error
}

func (w *recordingWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	if w.err != nil {
		return w.err
	}
	w.points = append(w.points, points...)
	return nil
}

func newTestInflux(w *recordingWriter, up bool) *InfluxBackend {
	return &InfluxBackend{
		writer: w,
		ping:   func(context.Context) (bool, error) { return up, nil },
	}
}

func lines(points []*write.Point) []string {
	out := make([]string, 0, len(points))
	for _, p := range points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

func TestInfluxAdvertiserPoints(t *testing.T) {
	w := &recordingWriter{}
	b := newTestInflux(w, true)
	ts := time.Unix(1600000000, 0)

	err := b.PutAdvertiser(context.Background(), &domain.Advertiser{
		Header: domain.Header{SourceAddress: 1, ReceivedAt: ts},
		Entries: []domain.AdvertiserEntry{
			{Address: 10, RSS: -60},
			{Address: 11, RSS: -75.5, SeenAt: ts.Add(-time.Second)},
		},
	})
	if err != nil {
		t.Fatalf("put advertiser: %v", err)
	}

	got := lines(w.points)
	want := []string{
		"advertiser,address=10,src=1 rss=-60 1600000000\n",
		"advertiser,address=11,src=1 rss=-75.5 1599999999\n",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("point %d\n got %q\nwant %q", i, got[i], want[i])
		}
	}
}

func TestInfluxReceivedPointTagsKind(t *testing.T) {
	w := &recordingWriter{}
	b := newTestInflux(w, true)

	item := &domain.BootDiagnostics{Header: domain.Header{SourceAddress: 5, GatewayID: "gw", HopCount: 3}}
	if err := b.PutReceived(context.Background(), item); err != nil {
		t.Fatalf("put received: %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("expected one point, got %d", len(w.points))
	}

	p := w.points[0]
	if p.Name() != "received_packets" {
		t.Fatalf("unexpected measurement %s", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["kind"] != "boot_diagnostics" || tags["src"] != "5" || tags["gw_id"] != "gw" {
		t.Fatalf("unexpected tags %v", tags)
	}
	for _, f := range p.FieldList() {
		if f.Key == "hop_count" && f.Value != int64(3) {
			t.Fatalf("expected hop_count 3, got %v", f.Value)
		}
	}
}

func TestInfluxTestNWValuesBecomeFields(t *testing.T) {
	p := testNWPoints(&domain.TestNW{
		Header: domain.Header{SourceAddress: 2},
		TestID: 4,
		Rows:   []domain.TestNWRow{{TestDataID: 1, Sequence: 8, Values: []int64{7, 9}}},
	})
	if len(p) != 1 {
		t.Fatalf("expected one point, got %d", len(p))
	}
	want := "testnw,src=2,test_data_id=1,test_id=4 sequence=8i,value_0=7i,value_1=9i\n"
	if got := write.PointToLineProtocol(p[0], time.Second); got != want {
		t.Fatalf("\n got %q\nwant %q", got, want)
	}
}

func TestInfluxDiagnosticsSanitisesKeys(t *testing.T) {
	w := &recordingWriter{}
	b := newTestInflux(w, true)

	if err := b.PutDiagnostics(context.Background(), &domain.Diagnostics{}); err != nil {
		t.Fatalf("empty diagnostics: %v", err)
	}
	if len(w.points) != 0 {
		t.Fatalf("expected no point for empty diagnostics")
	}

	err := b.PutDiagnostics(context.Background(), &domain.Diagnostics{
		Fields: map[string]float64{"cpu load (%)": 12.5},
	})
	if err != nil {
		t.Fatalf("put diagnostics: %v", err)
	}
	fields := w.points[0].FieldList()
	if len(fields) != 1 || fields[0].Key != "cpu_load" {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func TestInfluxWriteErrorIsWrapped(t *testing.T) {
	boom := errors.New("unauthorized")
	b := newTestInflux(&recordingWriter{err: boom}, true)

	err := b.PutNodeDiagnostics(context.Background(), &domain.NodeDiagnostics{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestInfluxPing(t *testing.T) {
	if err := newTestInflux(&recordingWriter{}, true).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := newTestInflux(&recordingWriter{}, false).Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail when server is not ready")
	}

	closed := false
	b := newTestInflux(&recordingWriter{}, true)
	b.close = func() { closed = true }
	if err := b.Close(); err != nil || !closed {
		t.Fatalf("expected close to release the client")
	}
}
