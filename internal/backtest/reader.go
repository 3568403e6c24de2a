package backtest

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"

	"hftsim/pkg/types"
)

// Event files are zstd streams of fixed-width little-endian rows behind a
// small plain header: 4-byte magic, 4-byte row count.
//
//	magic   "EVT1"
//	count   uint32
//	rows    count * { ev u64, exch_ts i64, local_ts i64, px f64, qty f32 }
const (
	eventFileMagic = "EVT1"
	rowSize        = 8 + 8 + 8 + 8 + 4
)

// Data is one loaded chunk of rows; one recorded file maps to one chunk.
// Processors borrow a chunk from the Reader and release it only after the
// next chunk has been loaded, so a processor briefly holds two chunks; at end
// of data the last chunk stays held until Close.
type Data struct {
	Rows []types.Row

	file int
}

// Len returns the number of rows in the chunk.
func (d *Data) Len() int { return len(d.Rows) }

type cacheEntry struct {
	data *Data
	refs int
}

type readerShared struct {
	files []string
	cache map[int]*cacheEntry
}

// Reader hands out event-file chunks in file order. Cursors created with
// Clone share one underlying cache, so a file consumed by both the local and
// the exchange processor is decoded once and freed when both have released
// it. The simulator is single-threaded; the Reader is not safe for
// concurrent use.
type Reader struct {
	shared *readerShared
	next   int
}

// NewReader creates a reader over the given event files.
func NewReader(files []string) *Reader {
	return &Reader{
		shared: &readerShared{
			files: files,
			cache: make(map[int]*cacheEntry),
		},
	}
}

// Clone returns an independent cursor over the same files and cache.
func (r *Reader) Clone() *Reader {
	return &Reader{shared: r.shared}
}

// Next loads and returns the next chunk, or ErrEndOfData past the last file.
func (r *Reader) Next() (*Data, error) {
	if r.next >= len(r.shared.files) {
		return nil, types.ErrEndOfData
	}
	idx := r.next
	entry, ok := r.shared.cache[idx]
	if !ok {
		rows, err := ReadEventFile(r.shared.files[idx])
		if err != nil {
			return nil, err
		}
		entry = &cacheEntry{data: &Data{Rows: rows, file: idx}}
		r.shared.cache[idx] = entry
	}
	entry.refs++
	r.next++
	return entry.data, nil
}

// Release returns a chunk obtained from Next. Once every cursor has released
// it the chunk is evicted from the cache.
func (r *Reader) Release(d *Data) {
	if d == nil {
		return
	}
	entry, ok := r.shared.cache[d.file]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(r.shared.cache, d.file)
	}
}

// ReadEventFile decodes a whole event file into rows.
func ReadEventFile(path string) ([]types.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read event file header: %w", err)
	}
	if string(header[:4]) != eventFileMagic {
		return nil, fmt.Errorf("event file %s: bad magic %q", path, header[:4])
	}
	count := binary.LittleEndian.Uint32(header[4:])

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	buf := make([]byte, rowSize)
	rows := make([]types.Row, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(dec, buf); err != nil {
			return nil, fmt.Errorf("event file %s row %d: %w", path, i, err)
		}
		rows = append(rows, decodeRow(buf))
	}
	return rows, nil
}

// WriteEventFile encodes rows into the event-file format.
func WriteEventFile(path string, rows []types.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create event file: %w", err)
	}
	defer f.Close()

	header := make([]byte, 8)
	copy(header, eventFileMagic)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(rows)))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("write event file header: %w", err)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("open zstd writer: %w", err)
	}
	buf := make([]byte, rowSize)
	for i := range rows {
		encodeRow(buf, &rows[i])
		if _, err := enc.Write(buf); err != nil {
			enc.Close()
			return fmt.Errorf("write event row %d: %w", i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	return f.Close()
}

func decodeRow(buf []byte) types.Row {
	return types.Row{
		Ev:      binary.LittleEndian.Uint64(buf[0:]),
		ExchTS:  int64(binary.LittleEndian.Uint64(buf[8:])),
		LocalTS: int64(binary.LittleEndian.Uint64(buf[16:])),
		Px:      math.Float64frombits(binary.LittleEndian.Uint64(buf[24:])),
		Qty:     math.Float32frombits(binary.LittleEndian.Uint32(buf[32:])),
	}
}

func encodeRow(buf []byte, row *types.Row) {
	binary.LittleEndian.PutUint64(buf[0:], row.Ev)
	binary.LittleEndian.PutUint64(buf[8:], uint64(row.ExchTS))
	binary.LittleEndian.PutUint64(buf[16:], uint64(row.LocalTS))
	binary.LittleEndian.PutUint64(buf[24:], math.Float64bits(row.Px))
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(row.Qty))
}
