package datasets

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// LoaderConfig controls batching. It is read from the "loader" section of the
// YAML configuration file.
type LoaderConfig struct {
	BatchSize int  `yaml:"batch_size"`
	Shuffle   bool `yaml:"shuffle"`
	// DropIncomplete skips the last batch of an epoch when it is short.
	DropIncomplete bool  `yaml:"drop_incomplete"`
	Seed           int64 `yaml:"seed"`
}

// Loader feeds a Dataset to a gomlx training loop.
//
// Each Yield returns inputs [out, maps, masks] and labels [imgs, loss_masks]
// for the next BatchSize samples, and io.EOF once the epoch is exhausted.
// Reset starts a new epoch, reshuffling when Shuffle is set.
type Loader struct {
	ds    Dataset
	name  string
	cfg   LoaderConfig
	rng   *rand.Rand
	order []int
	pos   int
}

var _ train.Dataset = (*Loader)(nil)

// NewLoader wraps ds.
func NewLoader(name string, ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset %q is empty", name)
	}
	l := &Loader{
		ds:   ds,
		name: name,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
	l.Reset()
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Reset implements train.Dataset.
func (l *Loader) Reset() {
	n := l.ds.Len()
	if len(l.order) != n {
		l.order = make([]int, n)
	}
	for i := range l.order {
		l.order[i] = i
	}
	if l.cfg.Shuffle {
		l.rng.Shuffle(n, func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
	}
	l.pos = 0
}

// Next collates the next batch of the epoch, or returns io.EOF.
func (l *Loader) Next() (*Batch, error) {
	remaining := len(l.order) - l.pos
	if remaining <= 0 || (l.cfg.DropIncomplete && remaining < l.cfg.BatchSize) {
		return nil, io.EOF
	}
	end := l.pos + min(l.cfg.BatchSize, remaining)
	samples := make([]*Sample, 0, end-l.pos)
	for _, idx := range l.order[l.pos:end] {
		_, s, err := l.ds.Example(idx)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	l.pos = end
	return Collate(samples)
}

// Yield implements train.Dataset.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := l.Next()
	if err != nil {
		return nil, nil, nil, err
	}
	t := b.ToGomlxTensors()
	// t is in FieldNames order: imgs, maps, masks, loss_masks, out
	inputs = []*tensors.Tensor{t[4], t[1], t[2]}
	labels = []*tensors.Tensor{t[0], t[3]}
	return l, inputs, labels, nil
}
