// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the options that control state tracking and restore
// plan construction.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/substate/core/fault"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DirtyStrategy selects how writes to mapped memory are detected.
type DirtyStrategy string

const (
	// PageProtect traps the first write to each read-only page of a shadow.
	PageProtect DirtyStrategy = "page-protect"
	// ShadowCopy keeps a second buffer and diffs it on flush.
	ShadowCopy DirtyStrategy = "shadow-copy"
	// SegmentDiff keeps a snapshot and compares it on flush.
	SegmentDiff DirtyStrategy = "segment-diff"
)

// BufferPolicy selects which buffer contents are restored.
type BufferPolicy string

const (
	// BuffersNone restores no buffer contents.
	BuffersNone BufferPolicy = "none"
	// BuffersHostVisible restores only the contents of host-visible memory.
	BuffersHostVisible BufferPolicy = "host-visible-only"
	// BuffersAll restores every buffer with defined content.
	BuffersAll BufferPolicy = "all"
)

const (
	// ErrInvalid is returned by Validate for an unusable configuration.
	ErrInvalid = fault.Const("Invalid configuration")
)

// Config is the set of recognized options.
type Config struct {
	DirtyTrackingStrategy       DirtyStrategy `yaml:"dirtyTrackingStrategy"`
	RestoreImages               bool          `yaml:"restoreImages"`
	RestoreBuffers              BufferPolicy  `yaml:"restoreBuffers"`
	RestorePoolDepth            int           `yaml:"restorePoolDepth"`
	StagingBudgetBytes          uint64        `yaml:"stagingBudgetBytes"`
	MaxChunkSize                int           `yaml:"maxChunkSize"`
	DelayedFenceVisibilityPolls int           `yaml:"delayedFenceVisibilityPolls"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DirtyTrackingStrategy:       ShadowCopy,
		RestoreImages:               true,
		RestoreBuffers:              BuffersAll,
		RestorePoolDepth:            4,
		StagingBudgetBytes:          16 << 20,
		MaxChunkSize:                4096,
		DelayedFenceVisibilityPolls: 0,
	}
}

// Parse decodes YAML data over the defaults. Unknown keys are an error.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "Decoding config")
	}
	return c, c.Validate()
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "Reading config %v", path)
	}
	return Parse(data)
}

// Marshal encodes the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks that every option holds a usable value.
func (c Config) Validate() error {
	switch c.DirtyTrackingStrategy {
	case PageProtect, ShadowCopy, SegmentDiff:
	default:
		return errors.Wrapf(ErrInvalid, "dirtyTrackingStrategy %q", c.DirtyTrackingStrategy)
	}
	switch c.RestoreBuffers {
	case BuffersNone, BuffersHostVisible, BuffersAll:
	default:
		return errors.Wrapf(ErrInvalid, "restoreBuffers %q", c.RestoreBuffers)
	}
	if c.RestorePoolDepth < 1 {
		return errors.Wrapf(ErrInvalid, "restorePoolDepth %d must be at least 1", c.RestorePoolDepth)
	}
	if c.StagingBudgetBytes == 0 {
		return errors.Wrap(ErrInvalid, "stagingBudgetBytes must not be 0")
	}
	if c.MaxChunkSize < 1 {
		return errors.Wrapf(ErrInvalid, "maxChunkSize %d must be at least 1", c.MaxChunkSize)
	}
	if c.DelayedFenceVisibilityPolls < 0 {
		return errors.Wrapf(ErrInvalid, "delayedFenceVisibilityPolls %d is negative", c.DelayedFenceVisibilityPolls)
	}
	return nil
}

// Bind registers a flag for every option on fs, writing into c.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.Var((*dirtyFlag)(&c.DirtyTrackingStrategy), "dirty-tracking", "mapped memory write detection: page-protect, shadow-copy or segment-diff")
	fs.BoolVar(&c.RestoreImages, "restore-images", c.RestoreImages, "restore image contents")
	fs.Var((*bufferFlag)(&c.RestoreBuffers), "restore-buffers", "buffer contents to restore: none, host-visible-only or all")
	fs.IntVar(&c.RestorePoolDepth, "pool-depth", c.RestorePoolDepth, "number of in-flight staging episodes")
	fs.Uint64Var(&c.StagingBudgetBytes, "staging-budget", c.StagingBudgetBytes, "staging bytes per episode")
	fs.IntVar(&c.MaxChunkSize, "max-chunk", c.MaxChunkSize, "maximum elements per emitted array")
	fs.IntVar(&c.DelayedFenceVisibilityPolls, "fence-delay", c.DelayedFenceVisibilityPolls, "polls a signaled fence stays reported unsignaled")
}

type dirtyFlag DirtyStrategy

func (f *dirtyFlag) String() string { return string(*f) }
func (f *dirtyFlag) Set(s string) error {
	switch v := DirtyStrategy(s); v {
	case PageProtect, ShadowCopy, SegmentDiff:
		*f = dirtyFlag(v)
		return nil
	}
	return fmt.Errorf("unknown dirty tracking strategy %q", s)
}

type bufferFlag BufferPolicy

func (f *bufferFlag) String() string { return string(*f) }
func (f *bufferFlag) Set(s string) error {
	switch v := BufferPolicy(s); v {
	case BuffersNone, BuffersHostVisible, BuffersAll:
		*f = bufferFlag(v)
		return nil
	}
	return fmt.Errorf("unknown buffer restore policy %q", s)
}
