// Package recorder persists completed captures to SQLite so traces survive a
// console restart and can be listed with capture_log. Writes happen from the
// completion consumer in command context, never from the sampling tick.
package recorder

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/zeebo/xxh3"

	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Meta describes the configuration a capture was taken with. It is stored as
// a JSON column next to the raw sample blob.
type Meta struct {
	Channels       []uint16 `json:"channels"`
	Depth          int      `json:"depth"`
	TriggerKind    uint8    `json:"trigger_kind"`
	TriggerChannel uint16   `json:"trigger_channel"`
	Threshold      float32  `json:"threshold"`
	Pretrigger     float64  `json:"pretrigger"`
	Downsample     int      `json:"downsample"`
}

// Record is one archived capture as listed by capture_log.
type Record struct {
	ID        int64
	Taken     time.Time
	Channels  string
	Depth     int
	Checksum  uint64
	SizeBytes int
}

// Recorder is the SQLite-backed capture archive. keep bounds the number of
// retained captures; older rows are pruned on insert.
type Recorder struct {
	db   *sql.DB
	keep int
	mu   sync.Mutex
}

// New opens (or creates) the archive database at path and ensures the schema.
func New(path string, keep int) (*Recorder, error) {
	if keep <= 0 {
		return nil, errors.New("recorder: keep limit must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Recorder{db: db, keep: keep}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS captures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at INTEGER NOT NULL,
    meta TEXT NOT NULL,
    channels TEXT NOT NULL,
    depth INTEGER NOT NULL,
    samples BLOB NOT NULL,
    checksum INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_captures_taken ON captures(taken_at DESC);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("recorder: init schema: %w", err)
	}
	return nil
}

// Store archives one capture window. rows is the chronological read-out,
// one slice per sample group in configured channel order. Returns the row ID.
func (r *Recorder) Store(taken time.Time, meta Meta, rows [][]float32) (int64, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("recorder: encode meta: %w", err)
	}
	blob := encodeSamples(rows)
	checksum := xxh3.Hash(blob)

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(
		`INSERT INTO captures (taken_at, meta, channels, depth, samples, checksum) VALUES (?, ?, ?, ?, ?, ?)`,
		taken.UTC().Unix(), string(metaJSON), channelsCSV(meta.Channels), meta.Depth, blob, int64(checksum),
	)
	if err != nil {
		return 0, fmt.Errorf("recorder: insert capture: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("recorder: capture ID: %w", err)
	}
	if err := r.pruneLocked(); err != nil {
		return id, err
	}
	return id, nil
}

// pruneLocked deletes everything beyond the keep limit, oldest first.
func (r *Recorder) pruneLocked() error {
	_, err := r.db.Exec(
		`DELETE FROM captures WHERE id NOT IN (SELECT id FROM captures ORDER BY id DESC LIMIT ?)`,
		r.keep,
	)
	if err != nil {
		return fmt.Errorf("recorder: prune: %w", err)
	}
	return nil
}

// Recent lists the newest captures, most recent first.
func (r *Recorder) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT id, taken_at, channels, depth, checksum, length(samples) FROM captures ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recorder: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var taken, checksum int64
		if err := rows.Scan(&rec.ID, &taken, &rec.Channels, &rec.Depth, &checksum, &rec.SizeBytes); err != nil {
			return nil, fmt.Errorf("recorder: scan: %w", err)
		}
		rec.Taken = time.Unix(taken, 0).UTC()
		rec.Checksum = uint64(checksum)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Load returns one archived capture's metadata and sample rows by ID.
func (r *Recorder) Load(id int64) (Meta, [][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var metaJSON string
	var blob []byte
	var checksum int64
	err := r.db.QueryRow(
		`SELECT meta, samples, checksum FROM captures WHERE id = ?`, id,
	).Scan(&metaJSON, &blob, &checksum)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("recorder: load capture %d: %w", id, err)
	}
	if xxh3.Hash(blob) != uint64(checksum) {
		return Meta{}, nil, fmt.Errorf("recorder: capture %d checksum mismatch", id)
	}
	var meta Meta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("recorder: decode meta: %w", err)
	}
	rows, err := decodeSamples(blob, len(meta.Channels))
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, rows, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

func channelsCSV(ids []uint16) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}

// encodeSamples flattens rows into little-endian float32 bits.
func encodeSamples(rows [][]float32) []byte {
	n := 0
	for _, row := range rows {
		n += len(row)
	}
	blob := make([]byte, 0, n*4)
	var scratch [4]byte
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
			blob = append(blob, scratch[:]...)
		}
	}
	return blob
}

func decodeSamples(blob []byte, numChans int) ([][]float32, error) {
	if numChans <= 0 || len(blob)%4 != 0 {
		return nil, errors.New("recorder: malformed sample blob")
	}
	total := len(blob) / 4
	if total%numChans != 0 {
		return nil, errors.New("recorder: sample blob not group-aligned")
	}
	rows := make([][]float32, total/numChans)
	for g := range rows {
		row := make([]float32, numChans)
		for c := range row {
			off := (g*numChans + c) * 4
			row[c] = math.Float32frombits(binary.LittleEndian.Uint32(blob[off : off+4]))
		}
		rows[g] = row
	}
	return rows, nil
}
