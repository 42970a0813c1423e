package ckptdb

import (
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/ckptdb/ckptdb/internal/metrics"
	"github.com/ckptdb/ckptdb/internal/xlog"
)

// Options configures an Engine. The zero value is not directly usable;
// call DefaultOptions and override fields as needed.
type Options struct {
	// DoConcat requests that one background extraction pass append every
	// candidate's extracted/retained split into a single pair of physical
	// files rather than one pair per candidate.
	DoConcat bool `toml:"do_concat"`

	// ExtractThreshold is the overlap fraction a candidate column must
	// exceed (extracted keys > ExtractThreshold × the new snapshot's key
	// count) for its split to be installed. Any positive value also skips
	// extraction entirely for new snapshots of 100 keys or fewer.
	ExtractThreshold float32 `toml:"extract_thres"`

	// BitsPerKey configures the bloom filter density used to pre-screen
	// extraction candidates.
	BitsPerKey int `toml:"bits_per_key"`

	// MergeLength is the column-count interval at which ShouldMerge fires.
	MergeLength int `toml:"merge_length"`

	// Logger receives structured events for open/recovery/extraction/merge.
	// Defaults to xlog.Root() when nil.
	Logger xlog.Logger `toml:"-"`

	// WriteMeter, ReadMeter, and ExtractMeter track bytes written, bytes
	// read, and keys extracted respectively. SizeGauge tracks the store's
	// total size on disk. All default to no-ops.
	WriteMeter   metrics.Meter `toml:"-"`
	ReadMeter    metrics.Meter `toml:"-"`
	ExtractMeter metrics.Meter `toml:"-"`
	SizeGauge    metrics.Gauge `toml:"-"`
}

// DefaultOptions returns the spec-mandated defaults: concatenation off,
// bits_per_key 16, and no-op instrumentation.
func DefaultOptions() *Options {
	return &Options{
		DoConcat:         false,
		ExtractThreshold: 0,
		BitsPerKey:       16,
		MergeLength:      10,
		Logger:           xlog.Root(),
		WriteMeter:       metrics.NilMeter{},
		ReadMeter:        metrics.NilMeter{},
		ExtractMeter:     metrics.NilMeter{},
		SizeGauge:        metrics.NilGauge{},
	}
}

func (o *Options) setDefaults() {
	if o.BitsPerKey <= 0 {
		o.BitsPerKey = 16
	}
	if o.MergeLength <= 0 {
		o.MergeLength = 10
	}
	if o.Logger == nil {
		o.Logger = xlog.Root()
	}
	if o.WriteMeter == nil {
		o.WriteMeter = metrics.NilMeter{}
	}
	if o.ReadMeter == nil {
		o.ReadMeter = metrics.NilMeter{}
	}
	if o.ExtractMeter == nil {
		o.ExtractMeter = metrics.NilMeter{}
	}
	if o.SizeGauge == nil {
		o.SizeGauge = metrics.NilGauge{}
	}
}

// LoadOptions reads a TOML configuration file. Fields absent from the file
// keep DefaultOptions' values.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ckptdb: read options %s: %w", path, err)
	}
	opts := DefaultOptions()
	if err := toml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("ckptdb: parse options %s: %w", path, err)
	}
	opts.setDefaults()
	return opts, nil
}

// WriteTOML writes o's serializable fields to path.
func (o *Options) WriteTOML(path string) error {
	data, err := toml.Marshal(o)
	if err != nil {
		return fmt.Errorf("ckptdb: marshal options: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("ckptdb: write options %s: %w", path, err)
	}
	return nil
}
