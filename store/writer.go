package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	bolt "go.etcd.io/bbolt"

	"github.com/Noofbiz/mcmri/ndarray"
)

// Writer creates or extends a store file. Only one Writer may hold a file at
// a time; readers opened with Open wait for it to close.
type Writer struct {
	path string
	db   *bolt.DB
}

// Create opens path for writing, creating the file if needed.
func Create(path string) (*Writer, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", path, err)
	}
	return &Writer{path: path, db: db}, nil
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Close flushes and releases the file.
func (w *Writer) Close() error { return w.db.Close() }

// Put stores a as dataset name, replacing any dataset of the same name.
// Real element types are stored as float32 and complex ones as complex64.
func Put[T ndarray.Elem](w *Writer, name string, a ndarray.Array[T]) error {
	if a.Rank() == 0 {
		return fmt.Errorf("dataset %q: scalar arrays are not supported", name)
	}
	if a.Shape.Size() != len(a.Data) {
		return fmt.Errorf("dataset %q: data length %d does not match shape %v", name, len(a.Data), a.Shape)
	}

	var (
		meta Meta
		flat []float32
	)
	switch data := any(a.Data).(type) {
	case []float32:
		meta.DType = Float32
		flat = data
	case []float64:
		meta.DType = Float32
		flat = make([]float32, len(data))
		for i, v := range data {
			flat[i] = float32(v)
		}
	case []complex64:
		meta.DType = Complex64
		flat = make([]float32, 2*len(data))
		for i, v := range data {
			flat[2*i], flat[2*i+1] = real(v), imag(v)
		}
	case []complex128:
		meta.DType = Complex64
		flat = make([]float32, 2*len(data))
		for i, v := range data {
			flat[2*i], flat[2*i+1] = float32(real(v)), float32(imag(v))
		}
	default:
		return fmt.Errorf("dataset %q: unsupported element type %T", name, a.Data)
	}
	meta.Shape = a.Shape.Clone()

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of %q: %w", name, err)
	}

	n := meta.Shape[0]
	rowLen := meta.Shape[1:].Size() * meta.width()
	err = w.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		if err := b.Put(metaKey, rawMeta); err != nil {
			return err
		}
		raw := make([]byte, rowLen*4)
		for i := 0; i < n; i++ {
			row := flat[i*rowLen : (i+1)*rowLen]
			for j, v := range row {
				binary.LittleEndian.PutUint32(raw[4*j:], math.Float32bits(v))
			}
			if err := b.Put(rowKey(i), compress(raw)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write dataset %q to %s: %w", name, w.path, err)
	}
	return nil
}
