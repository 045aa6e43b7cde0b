// Package store persists named N-dimensional datasets in a single bbolt file.
//
// A store plays the role an HDF5 file plays in most MRI pipelines: it is a
// key-value container addressed by dataset name ("imgs", "maps", "ksp",
// "masks", "loss_masks", "noise", "mask_traj_<idx>", ...). Each dataset lives
// in its own bucket:
//
//   - key "meta" holds JSON {"dtype": "complex64"|"float32", "shape": [...]}
//   - every row i of the leading axis is stored under the 8-byte big-endian
//     key i as a zstd frame of little-endian float32 values (complex values
//     are interleaved real, imaginary)
//
// Reading dataset[idx] only decodes one row, so a sample provider can open
// the file, pull a single sample and close it again on every access.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/Noofbiz/mcmri/ndarray"
)

// DType is the on-disk element type of a dataset.
type DType string

const (
	Complex64 DType = "complex64"
	Float32   DType = "float32"
)

// Meta describes a dataset.
type Meta struct {
	DType DType         `json:"dtype"`
	Shape ndarray.Shape `json:"shape"`
}

// width is the number of float32 values per element.
func (m Meta) width() int {
	if m.DType == Complex64 {
		return 2
	}
	return 1
}

var metaKey = []byte("meta")

// openTimeout bounds how long Open waits for a writer holding the file lock.
const openTimeout = 2 * time.Second

func rowKey(i int) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(i))
	return k[:]
}

// compressionLevel mirrors the speed/ratio trade-off used for column blocks.
const compressionLevel = 3

var encoderPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			panic("failed to create zstd encoder: " + err.Error())
		}
		return enc
	},
}

var decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})

func compress(raw []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompress(frame []byte) ([]byte, error) {
	dec, err := decoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return dec.DecodeAll(frame, nil)
}

// File is a store opened read-only. Several File values may read the same
// path concurrently.
type File struct {
	path string
	db   *bolt.DB
}

// Open opens an existing store read-only.
func Open(path string) (*File, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	return &File{path: path, db: db}, nil
}

// Path returns the file the store was opened from.
func (f *File) Path() string { return f.path }

// Close releases the file.
func (f *File) Close() error { return f.db.Close() }

// Datasets lists the dataset names in the store, sorted.
func (f *File) Datasets() ([]string, error) {
	var names []string
	err := f.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets in %s: %w", f.path, err)
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether the store holds a dataset called name.
func (f *File) Has(name string) bool {
	found := false
	_ = f.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return found
}

// Meta returns the dtype and shape of a dataset.
func (f *File) Meta(name string) (Meta, error) {
	var meta Meta
	err := f.db.View(func(tx *bolt.Tx) error {
		var err error
		meta, err = f.bucketMeta(tx, name)
		return err
	})
	return meta, err
}

func (f *File) bucketMeta(tx *bolt.Tx, name string) (Meta, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return Meta{}, &MissingDatasetError{Path: f.path, Name: name}
	}
	raw := b.Get(metaKey)
	if raw == nil {
		return Meta{}, fmt.Errorf("dataset %q in %s has no metadata", name, f.path)
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("failed to decode metadata of %q: %w", name, err)
	}
	if meta.Shape.Rank() == 0 {
		return Meta{}, fmt.Errorf("dataset %q in %s has an empty shape", name, f.path)
	}
	return meta, nil
}

// read returns the values of the requested rows (nil means every row) and
// the shape of the result.
func (f *File) read(name string, rows []int) (Meta, ndarray.Shape, []float32, error) {
	var (
		meta  Meta
		shape ndarray.Shape
		vals  []float32
	)
	err := f.db.View(func(tx *bolt.Tx) error {
		var err error
		meta, err = f.bucketMeta(tx, name)
		if err != nil {
			return err
		}
		n := meta.Shape[0]
		if rows == nil {
			rows = make([]int, n)
			for i := range rows {
				rows[i] = i
			}
			shape = meta.Shape.Clone()
		} else {
			shape = meta.Shape[1:].Clone()
		}
		rowLen := meta.Shape[1:].Size() * meta.width()
		vals = make([]float32, 0, len(rows)*rowLen)

		b := tx.Bucket([]byte(name))
		for _, i := range rows {
			if i < 0 || i >= n {
				return &IndexOutOfRangeError{Path: f.path, Name: name, Index: i, Len: n}
			}
			frame := b.Get(rowKey(i))
			if frame == nil {
				return fmt.Errorf("dataset %q in %s is missing row %d", name, f.path, i)
			}
			raw, err := decompress(frame)
			if err != nil {
				return fmt.Errorf("failed to decompress %q row %d: %w", name, i, err)
			}
			if len(raw) != rowLen*4 {
				return fmt.Errorf("dataset %q row %d holds %d bytes, want %d", name, i, len(raw), rowLen*4)
			}
			for off := 0; off < len(raw); off += 4 {
				vals = append(vals, math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
			}
		}
		return nil
	})
	if err != nil {
		return Meta{}, nil, nil, err
	}
	return meta, shape, vals, nil
}

func toComplex(meta Meta, shape ndarray.Shape, vals []float32) ndarray.Complex {
	out := ndarray.Complex{Shape: shape, Data: make([]complex128, shape.Size())}
	if meta.DType == Complex64 {
		for i := range out.Data {
			out.Data[i] = complex(float64(vals[2*i]), float64(vals[2*i+1]))
		}
		return out
	}
	for i := range out.Data {
		out.Data[i] = complex(float64(vals[i]), 0)
	}
	return out
}

func toReal(meta Meta, shape ndarray.Shape, vals []float32) ndarray.Real {
	out := ndarray.Real{Shape: shape, Data: make([]float64, shape.Size())}
	w := meta.width()
	for i := range out.Data {
		out.Data[i] = float64(vals[w*i])
	}
	return out
}

// ReadComplex reads name[idx]. Real datasets are promoted with a zero
// imaginary part.
func (f *File) ReadComplex(name string, idx int) (ndarray.Complex, error) {
	meta, shape, vals, err := f.read(name, []int{idx})
	if err != nil {
		return ndarray.Complex{}, err
	}
	return toComplex(meta, shape, vals), nil
}

// ReadReal reads name[idx]. Complex datasets keep only their real part.
func (f *File) ReadReal(name string, idx int) (ndarray.Real, error) {
	meta, shape, vals, err := f.read(name, []int{idx})
	if err != nil {
		return ndarray.Real{}, err
	}
	return toReal(meta, shape, vals), nil
}

// ReadAllComplex reads a whole dataset.
func (f *File) ReadAllComplex(name string) (ndarray.Complex, error) {
	meta, shape, vals, err := f.read(name, nil)
	if err != nil {
		return ndarray.Complex{}, err
	}
	return toComplex(meta, shape, vals), nil
}

// ReadAllReal reads a whole dataset.
func (f *File) ReadAllReal(name string) (ndarray.Real, error) {
	meta, shape, vals, err := f.read(name, nil)
	if err != nil {
		return ndarray.Real{}, err
	}
	return toReal(meta, shape, vals), nil
}

// TrajectoryName is the dataset holding the non-Cartesian trajectory of
// sample idx when a masks store has no shared "masks" dataset.
func TrajectoryName(idx int) string {
	return fmt.Sprintf("mask_traj_%d", idx)
}
