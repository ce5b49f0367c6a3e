// Package journal records the ordered command stream of a session as
// zstd-compressed JSON lines: a header line, then one entry per command
// or digest checkpoint. A journal is enough to rebuild a session locally.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/lockstep-sim/lockstep/sim"
)

// Version is the journal format version written by Writer.
const Version = 1

// Entry kinds.
const (
	KindCommand = "command"
	KindDigest  = "digest"
)

// Header is the first line of a journal.
type Header struct {
	Version      int       `json:"version"`
	SessionID    string    `json:"session_id"`
	Seed         int64     `json:"seed"`
	Participants int       `json:"participants"`
	Scenario     string    `json:"scenario,omitempty"`
	Regions      int       `json:"regions,omitempty"`
	Ticks        int64     `json:"ticks,omitempty"`
	Settings     *Settings `json:"settings,omitempty"`
}

// Settings are the session settings that shape replicated state. A replay
// must run with the same values to reproduce the recorded digests.
type Settings struct {
	MultiParty    bool         `json:"multi_party"`
	FallbackParty sim.PartyID  `json:"fallback_party"`
	IDs           sim.IDConfig `json:"ids"`
}

// SettingsOf returns the recorded settings of cfg.
func SettingsOf(cfg sim.SessionConfig) *Settings {
	return &Settings{MultiParty: cfg.MultiParty, FallbackParty: cfg.FallbackParty, IDs: cfg.IDs}
}

// Entry is one journal line after the header.
type Entry struct {
	Kind    string       `json:"kind"`
	Command *sim.Command `json:"command,omitempty"`
	Tick    int64        `json:"tick,omitempty"`
	Digest  string       `json:"digest,omitempty"`
}

// Writer appends entries to a journal file.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
}

// Create creates the journal at path and writes h.
func Create(path string, h Header) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w := &Writer{f: f, enc: enc, w: bufio.NewWriterSize(enc, 128*1024)}
	if h.Version == 0 {
		h.Version = Version
	}
	if err := w.writeLine(h); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// WriteCommand appends cmd.
func (w *Writer) WriteCommand(cmd sim.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLine(Entry{Kind: KindCommand, Command: &cmd})
}

// WriteDigest appends a digest checkpoint for tick.
func (w *Writer) WriteDigest(tick int64, digest string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLine(Entry{Kind: KindDigest, Tick: tick, Digest: digest})
}

// Entries returns the number of entries written after the header.
func (w *Writer) Entries() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n - 1
}

func (w *Writer) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.n++
	return nil
}

// Close flushes and closes the journal.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var err error
	if w.w != nil {
		err = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	return err
}

// Reader reads a journal sequentially.
type Reader struct {
	f      *os.File
	dec    *zstd.Decoder
	br     *bufio.Reader
	header Header
}

// Open opens the journal at path and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r := &Reader{f: f, dec: dec, br: bufio.NewReaderSize(dec, 128*1024)}
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &r.header); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if r.header.Version != Version {
		_ = r.Close()
		return nil, fmt.Errorf("unsupported journal version %d", r.header.Version)
	}
	return r, nil
}

// Header returns the journal header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next entry, or io.EOF after the last one.
func (r *Reader) Next() (Entry, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return Entry{}, err
		}
		if len(line) <= 1 {
			continue
		}
		var e Entry
		if jerr := json.Unmarshal(line, &e); jerr != nil {
			return Entry{}, fmt.Errorf("decode entry: %w", jerr)
		}
		if e.Kind == KindCommand && e.Command == nil {
			return Entry{}, fmt.Errorf("command entry without command")
		}
		return e, nil
	}
}

// Close closes the journal.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
	if r.f != nil {
		err := r.f.Close()
		r.f = nil
		return err
	}
	return nil
}

// Recording is a fully loaded journal.
type Recording struct {
	Header   Header
	Commands []sim.Command
	Digests  map[int64]string
}

// Load reads the whole journal at path.
func Load(path string) (*Recording, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	rec := &Recording{Header: r.Header(), Digests: make(map[int64]string)}
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rec, nil
		}
		if err != nil {
			return nil, err
		}
		switch e.Kind {
		case KindCommand:
			rec.Commands = append(rec.Commands, *e.Command)
		case KindDigest:
			rec.Digests[e.Tick] = e.Digest
		default:
			return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
		}
	}
}

// LastTick returns the highest tick referenced by a command or digest.
func (rec *Recording) LastTick() int64 {
	last := rec.Header.Ticks
	for _, c := range rec.Commands {
		if c.Tick > last {
			last = c.Tick
		}
	}
	for t := range rec.Digests {
		if t > last {
			last = t
		}
	}
	return last
}
