package pcradar

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

// fakePort is an in-memory Porter: reads come from a preloaded buffer,
// writes are captured for inspection.
type fakePort struct {
	reads  bytes.Buffer
	writes bytes.Buffer
	closed bool
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.reads.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.writes.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func serialTestSession() SessionConfig {
	return SessionConfig{Groups: []map[int]SensorConfig{
		{1: {
			Subsweeps: []SubsweepConfig{{
				StartPoint: 40, NumPoints: 3, StepLength: 4,
				Profile: Profile1, HWAAS: 8, PRF: PRF13_0MHz, PhaseEnhancement: true,
			}},
			SweepsPerFrame: 2,
		}},
	}}
}

// appendFrameRecord encodes one binary frame record for the session
// above: 2 sweeps x 3 points of float32 I,Q pairs.
func appendFrameRecord(buf *bytes.Buffer, values [][]complex128) {
	var payload bytes.Buffer
	for _, sweep := range values {
		for _, v := range sweep {
			var w [8]byte
			binary.LittleEndian.PutUint32(w[0:], math.Float32bits(float32(real(v))))
			binary.LittleEndian.PutUint32(w[4:], math.Float32bits(float32(imag(v))))
			payload.Write(w[:])
		}
	}
	buf.WriteByte(frameMagic0)
	buf.WriteByte(frameMagic1)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(payload.Len()))
	buf.Write(n[:])
	buf.Write(payload.Bytes())
}

func TestSerialLinkSetupStartRead(t *testing.T) {
	port := &fakePort{}
	port.reads.WriteString(`META [{"1":{"base_step_length_m":0.0025}}]` + "\n")
	want := [][]complex128{
		{complex(1, 2), complex(3, 4), complex(5, 6)},
		{complex(7, 8), complex(9, 10), complex(11, 12)},
	}
	appendFrameRecord(&port.reads, want)

	link := NewSerialLink(port)
	meta, err := link.Setup(serialTestSession())
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if meta[0][1].BaseStepLengthM != 0.0025 {
		t.Errorf("base step length %v, want 0.0025", meta[0][1].BaseStepLengthM)
	}

	if err := link.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	frame, err := link.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	r := frame[0][1]
	if r.NumSweeps() != 2 || r.NumPoints() != 3 {
		t.Fatalf("frame shape %dx%d, want 2x3", r.NumSweeps(), r.NumPoints())
	}
	for s := range want {
		for p := range want[s] {
			if r.Frame[s][p] != want[s][p] {
				t.Errorf("frame[%d][%d] = %v, want %v", s, p, r.Frame[s][p], want[s][p])
			}
		}
	}

	if err := link.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sent := port.writes.String()
	lines := strings.Split(strings.TrimSuffix(sent, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("wrote %d commands, want 3: %q", len(lines), sent)
	}
	if !strings.HasPrefix(lines[0], "SETUP {") {
		t.Errorf("first command %q, want SETUP with payload", lines[0])
	}
	if lines[1] != "START" || lines[2] != "STOP" {
		t.Errorf("commands %q, want START then STOP", lines[1:])
	}
}

func TestSerialLinkLifecycleErrors(t *testing.T) {
	link := NewSerialLink(&fakePort{})
	if err := link.Start(); err != ErrNotSetup {
		t.Errorf("Start before Setup = %v, want ErrNotSetup", err)
	}
	if _, err := link.ReadFrame(context.Background()); err != ErrNotStarted {
		t.Errorf("ReadFrame before Start = %v, want ErrNotStarted", err)
	}
	if err := link.Stop(); err != ErrNotStarted {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
}

func TestSerialLinkBadMagic(t *testing.T) {
	port := &fakePort{}
	port.reads.WriteString(`META [{"1":{"base_step_length_m":0.0025}}]` + "\n")
	port.reads.Write([]byte{0x00, 0x00, 0, 0, 0, 0})

	link := NewSerialLink(port)
	if _, err := link.Setup(serialTestSession()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := link.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := link.ReadFrame(context.Background()); err == nil {
		t.Error("expected error for bad frame magic")
	}
}

func TestSerialLinkPayloadLengthMismatch(t *testing.T) {
	port := &fakePort{}
	port.reads.WriteString(`META [{"1":{"base_step_length_m":0.0025}}]` + "\n")
	port.reads.WriteByte(frameMagic0)
	port.reads.WriteByte(frameMagic1)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], 12) // session expects 48
	port.reads.Write(n[:])

	link := NewSerialLink(port)
	if _, err := link.Setup(serialTestSession()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := link.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := link.ReadFrame(context.Background()); err == nil {
		t.Error("expected error for payload length mismatch")
	}
}

func TestSerialLinkMetadataGroupCountMismatch(t *testing.T) {
	port := &fakePort{}
	port.reads.WriteString("META []\n")

	link := NewSerialLink(port)
	if _, err := link.Setup(serialTestSession()); err == nil {
		t.Error("expected error for metadata group count mismatch")
	}
}

func TestSerialLinkClose(t *testing.T) {
	port := &fakePort{}
	link := NewSerialLink(port)
	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Error("Close did not close the port")
	}
}
