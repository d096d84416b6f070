package pcradar

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"
)

// SerialLink carries sessions over the sensor module's UART. The module
// owns all acquisition logic; this side only frames commands and decodes
// the IQ stream.
//
// Wire protocol, host to module (newline-terminated text):
//
//	SETUP <session-config json>
//	START
//	STOP
//
// Module to host: a "META <json>" line answering SETUP with the per-group
// metadata list, then after START a binary record per frame:
//
//	magic 0xF5 0x21, uint32 LE payload length, payload
//
// where the payload is float32 LE I,Q pairs for every point of every
// sweep, per sensor per group in session order. Payload length is fully
// determined by the session config, so the record length doubles as a
// sanity check on stream alignment.
type SerialLink struct {
	mu      sync.Mutex
	port    Porter
	br      *bufio.Reader
	session SessionConfig
	setup   bool
	started bool
}

const (
	frameMagic0 = 0xF5
	frameMagic1 = 0x21
)

// NewSerialLink wraps an open port in a Link.
func NewSerialLink(port Porter) *SerialLink {
	return &SerialLink{port: port, br: bufio.NewReaderSize(port, 1<<16)}
}

func (l *SerialLink) command(verb string, body any) error {
	line := verb
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", verb, err)
		}
		line += " " + string(payload)
	}
	if _, err := l.port.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to write %s command: %w", verb, err)
	}
	return nil
}

// Setup sends the session config to the module and decodes its metadata
// reply.
func (l *SerialLink) Setup(cfg SessionConfig) ([]map[int]Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := l.command("SETUP", cfg); err != nil {
		return nil, err
	}

	line, err := l.br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata reply: %w", err)
	}
	const prefix = "META "
	if len(line) < len(prefix) || line[:len(prefix)] != prefix {
		return nil, fmt.Errorf("unexpected reply to SETUP: %q", line)
	}
	var meta []map[int]Metadata
	if err := json.Unmarshal([]byte(line[len(prefix):]), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(meta) != len(cfg.Groups) {
		return nil, fmt.Errorf("metadata for %d groups, configured %d", len(meta), len(cfg.Groups))
	}

	l.session = cfg
	l.setup = true
	l.started = false
	return meta, nil
}

// Start begins streaming.
func (l *SerialLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.setup {
		return ErrNotSetup
	}
	if l.started {
		return ErrAlreadyStarted
	}
	if err := l.command("START", nil); err != nil {
		return err
	}
	l.started = true
	return nil
}

// ReadFrame blocks until one full frame record has been decoded.
func (l *SerialLink) ReadFrame(ctx context.Context) ([]GroupResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return nil, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var header [6]byte
	if _, err := io.ReadFull(l.br, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if header[0] != frameMagic0 || header[1] != frameMagic1 {
		return nil, fmt.Errorf("frame stream out of sync: magic %02x%02x", header[0], header[1])
	}
	payloadLen := binary.LittleEndian.Uint32(header[2:])
	want := l.expectedPayloadLen()
	if int(payloadLen) != want {
		return nil, fmt.Errorf("frame payload length %d, expected %d", payloadLen, want)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(l.br, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	return l.decodeFrame(payload)
}

// Stop ends the streaming session.
func (l *SerialLink) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return ErrNotStarted
	}
	if err := l.command("STOP", nil); err != nil {
		return err
	}
	l.started = false
	return nil
}

// Close releases the port.
func (l *SerialLink) Close() error {
	return l.port.Close()
}

func (l *SerialLink) expectedPayloadLen() int {
	n := 0
	for _, group := range l.session.Groups {
		for _, sc := range group {
			n += sc.SweepsPerFrame * sc.NumPoints() * 8 // two float32 per point
		}
	}
	return n
}

func (l *SerialLink) decodeFrame(payload []byte) ([]GroupResult, error) {
	out := make([]GroupResult, len(l.session.Groups))
	off := 0
	for gi, group := range l.session.Groups {
		gr := make(GroupResult, len(group))
		for _, sensorID := range sortedSensorIDs(group) {
			sc := group[sensorID]
			frame := make([][]complex128, sc.SweepsPerFrame)
			for s := range frame {
				sweep := make([]complex128, sc.NumPoints())
				for p := range sweep {
					i := math.Float32frombits(binary.LittleEndian.Uint32(payload[off:]))
					q := math.Float32frombits(binary.LittleEndian.Uint32(payload[off+4:]))
					sweep[p] = complex(float64(i), float64(q))
					off += 8
				}
				frame[s] = sweep
			}
			gr[sensorID] = Result{Frame: frame}
		}
		out[gi] = gr
	}
	return out, nil
}

func sortedSensorIDs(group map[int]SensorConfig) []int {
	ids := make([]int, 0, len(group))
	for id := range group {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
