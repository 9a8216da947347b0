package param

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/zeebo/xxh3"
)

// NVM persists parameter values marked Persist into a Pebble key/value store,
// standing in for the device's non-volatile memory. A header record carries a
// version, the entry count and an xxh3 checksum over all persisted records;
// a missing or corrupt header means the saved set is ignored and the registry
// keeps its defaults.
type NVM struct {
	db *pebble.DB
}

const (
	nvmVersion   = 1
	nvmHeaderKey = "meta|header"
	nvmParPrefix = "p|"
	// Exclusive upper bound for parameter-record scans: the successor of the
	// prefix byte, so 4-byte keys like "p|\xff\x01" still fall inside.
	nvmParEnd = "p}"
)

var (
	// ErrNVMCorrupt is returned by Load when the header checksum does not
	// match the stored records.
	ErrNVMCorrupt = errors.New("param: NVM header checksum mismatch")
	// ErrNVMEmpty is returned by Load when no saved set exists yet.
	ErrNVMEmpty = errors.New("param: NVM holds no saved parameters")
)

// OpenNVM opens (or creates) the parameter store at dir.
func OpenNVM(dir string) (*NVM, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("param: NVM path is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("param: ensure NVM directory: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("param: open NVM: %w", err)
	}
	return &NVM{db: db}, nil
}

// Close releases the underlying store.
func (n *NVM) Close() error {
	if n == nil || n.db == nil {
		return nil
	}
	return n.db.Close()
}

// Save writes the current value of every Persist parameter plus the checksum
// header in a single synced batch.
func (n *NVM) Save(reg *Registry) (int, error) {
	batch := n.db.NewBatch()
	defer batch.Close()

	hash := xxh3.New()
	count := 0
	for _, p := range reg.List() {
		if !p.Persist() {
			continue
		}
		rec := encodeParamRecord(p.Type(), p.Get().rawBits())
		key := paramKey(p.ID())
		if err := batch.Set(key, rec, nil); err != nil {
			return 0, fmt.Errorf("param: NVM batch set: %w", err)
		}
		_, _ = hash.Write(key)
		_, _ = hash.Write(rec)
		count++
	}

	header := make([]byte, 13)
	header[0] = nvmVersion
	binary.LittleEndian.PutUint32(header[1:5], uint32(count))
	binary.LittleEndian.PutUint64(header[5:13], hash.Sum64())
	if err := batch.Set([]byte(nvmHeaderKey), header, nil); err != nil {
		return 0, fmt.Errorf("param: NVM batch header: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("param: NVM commit: %w", err)
	}
	return count, nil
}

// Load verifies the header and applies every stored value whose parameter
// still resolves and parses for its current type. Stored values outside the
// current min/max bounds are clamped to the nearest bound, mirroring how the
// firmware handles definitions that shrank between builds. Returns the number
// of applied parameters.
func (n *NVM) Load(reg *Registry) (int, error) {
	headerBytes, closer, err := n.db.Get([]byte(nvmHeaderKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, ErrNVMEmpty
		}
		return 0, fmt.Errorf("param: NVM read header: %w", err)
	}
	header := append([]byte(nil), headerBytes...)
	_ = closer.Close()

	if len(header) != 13 || header[0] != nvmVersion {
		return 0, ErrNVMCorrupt
	}
	wantCount := binary.LittleEndian.Uint32(header[1:5])
	wantSum := binary.LittleEndian.Uint64(header[5:13])

	type record struct {
		id   uint16
		typ  Type
		bits uint64
	}
	var records []record

	hash := xxh3.New()
	count := uint32(0)
	iter, err := n.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(nvmParPrefix),
		UpperBound: []byte(nvmParEnd),
	})
	if err != nil {
		return 0, fmt.Errorf("param: NVM iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		val := iter.Value()
		typ, bits, decErr := decodeParamRecord(val)
		id, idErr := decodeParamKey(key)
		if decErr != nil || idErr != nil {
			_ = iter.Close()
			return 0, ErrNVMCorrupt
		}
		_, _ = hash.Write(key)
		_, _ = hash.Write(val)
		records = append(records, record{id: id, typ: typ, bits: bits})
		count++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("param: NVM iterator close: %w", err)
	}

	if count != wantCount || hash.Sum64() != wantSum {
		return 0, ErrNVMCorrupt
	}

	applied := 0
	for _, rec := range records {
		p, ok := reg.Resolve(rec.id)
		if !ok || p.Type() != rec.typ {
			// Parameter removed or retyped since the save; skip it.
			continue
		}
		v := valueFromBits(rec.typ, rec.bits)
		if v.Less(p.Min()) {
			v = p.Min()
		} else if p.Max().Less(v) {
			v = p.Max()
		}
		p.store(v)
		applied++
	}
	return applied, nil
}

// Clean removes the saved parameter set, mirroring the firmware's
// par_save_clean debug command.
func (n *NVM) Clean() error {
	if err := n.db.DeleteRange([]byte(nvmParPrefix), []byte(nvmParEnd), pebble.Sync); err != nil {
		return fmt.Errorf("param: NVM clean records: %w", err)
	}
	if err := n.db.Delete([]byte(nvmHeaderKey), pebble.Sync); err != nil {
		return fmt.Errorf("param: NVM clean header: %w", err)
	}
	return nil
}

func paramKey(id uint16) []byte {
	key := make([]byte, len(nvmParPrefix)+2)
	copy(key, nvmParPrefix)
	binary.BigEndian.PutUint16(key[len(nvmParPrefix):], id)
	return key
}

func decodeParamKey(key []byte) (uint16, error) {
	if len(key) != len(nvmParPrefix)+2 {
		return 0, errors.New("param: bad NVM key length")
	}
	return binary.BigEndian.Uint16(key[len(nvmParPrefix):]), nil
}

func encodeParamRecord(t Type, bits uint64) []byte {
	rec := make([]byte, 9)
	rec[0] = byte(t)
	binary.LittleEndian.PutUint64(rec[1:], bits)
	return rec
}

func decodeParamRecord(rec []byte) (Type, uint64, error) {
	if len(rec) != 9 {
		return 0, 0, errors.New("param: bad NVM record length")
	}
	t := Type(rec[0])
	if t > F32 {
		return 0, 0, errors.New("param: bad NVM record type")
	}
	return t, binary.LittleEndian.Uint64(rec[1:]), nil
}
