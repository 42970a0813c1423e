package ckptdb

import (
	"path/filepath"
	"testing"
)

func TestOptionsTOMLRoundTrip(t *testing.T) {
	opts := DefaultOptions()
	opts.DoConcat = true
	opts.ExtractThreshold = 42.5
	opts.BitsPerKey = 20
	opts.MergeLength = 5

	path := filepath.Join(t.TempDir(), "options.toml")
	if err := opts.WriteTOML(path); err != nil {
		t.Fatalf("WriteTOML: %v", err)
	}

	got, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if got.DoConcat != true || got.ExtractThreshold != 42.5 || got.BitsPerKey != 20 || got.MergeLength != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestDefaultOptionsFillsNilInstrumentation(t *testing.T) {
	opts := &Options{}
	opts.setDefaults()
	if opts.BitsPerKey != 16 {
		t.Fatalf("got BitsPerKey %d, want 16", opts.BitsPerKey)
	}
	if opts.Logger == nil || opts.WriteMeter == nil || opts.ReadMeter == nil || opts.ExtractMeter == nil || opts.SizeGauge == nil {
		t.Fatalf("setDefaults left a nil field: %+v", opts)
	}
}
