/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads the session configuration shared by the supervisor
// and generator binaries: an optional HCL file, then command line overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/markrussinovich/fbarc/internal/shm"
)

// MaxCapacity bounds the number of slots in a channel.
const MaxCapacity = 1 << 16

// MaxCandidateSizeLimit bounds the edges per slot.
const MaxCandidateSizeLimit = 1 << 16

// Session is the decoded configuration. A file looks like:
//
//	name               = "fbarc"
//	capacity           = 16
//	max_candidate_size = 8
//	limit              = 0
//	seed               = 0
//	metrics_bind_address = ":9090"
type Session struct {
	Name               string `hcl:"name,optional"`
	Dir                string `hcl:"dir,optional"`
	Capacity           int    `hcl:"capacity,optional"`
	MaxCandidateSize   int    `hcl:"max_candidate_size,optional"`
	Limit              int64  `hcl:"limit,optional"`
	Seed               int64  `hcl:"seed,optional"`
	MetricsBindAddress string `hcl:"metrics_bind_address,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Session {
	s := &Session{}
	s.applyDefaults()
	return s
}

func (s *Session) applyDefaults() {
	if s.Name == "" {
		s.Name = shm.DefaultName
	}
	if s.Capacity == 0 {
		s.Capacity = shm.DefaultCapacity
	}
	if s.MaxCandidateSize == 0 {
		s.MaxCandidateSize = shm.DefaultMaxCandidateSize
	}
}

// Validate reports every problem with s at once.
func (s *Session) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if strings.ContainsAny(s.Name, "/\x00") {
		errs = append(errs, fmt.Errorf("name %q must not contain '/' or NUL", s.Name))
	}
	if s.Capacity < 1 || s.Capacity > MaxCapacity {
		errs = append(errs, fmt.Errorf("capacity %d out of range [1, %d]", s.Capacity, MaxCapacity))
	}
	if s.MaxCandidateSize < 1 || s.MaxCandidateSize > MaxCandidateSizeLimit {
		errs = append(errs, fmt.Errorf("max_candidate_size %d out of range [1, %d]", s.MaxCandidateSize, MaxCandidateSizeLimit))
	}
	if s.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit %d must not be negative", s.Limit))
	}
	return errors.Join(errs...)
}

// ChannelOptions returns the shm options for this session.
func (s *Session) ChannelOptions() shm.Options {
	return shm.Options{
		Name:             s.Name,
		Dir:              s.Dir,
		Capacity:         s.Capacity,
		MaxCandidateSize: s.MaxCandidateSize,
	}
}

// Load decodes the HCL file at path. An empty path yields Default().
func Load(path string) (*Session, error) {
	if path == "" {
		return Default(), nil
	}
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", path, diags.Error())
	}
	return decode(path, file)
}

// Parse decodes HCL source; filename is only used in diagnostics.
func Parse(src []byte, filename string) (*Session, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %s", filename, diags.Error())
	}
	return decode(filename, file)
}

func decode(filename string, file *hcl.File) (*Session, error) {
	var s Session
	if diags := gohcl.DecodeBody(file.Body, nil, &s); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %s", filename, diags.Error())
	}
	s.applyDefaults()
	return &s, nil
}

// Flags are the command line overrides for a Session.
type Flags struct {
	fs *flag.FlagSet

	ConfigFile         *string
	name               *string
	dir                *string
	capacity           *int
	maxCandidateSize   *int
	limit              *int64
	seed               *int64
	metricsBindAddress *string
}

// RegisterFlags adds the session flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:                 fs,
		ConfigFile:         fs.String("config", "", "Path to an HCL session file"),
		name:               fs.String("name", shm.DefaultName, "Channel name"),
		dir:                fs.String("dir", "", "Directory holding the channel file (default /dev/shm or the temp dir)"),
		capacity:           fs.Int("capacity", shm.DefaultCapacity, "Number of channel slots (supervisor only)"),
		maxCandidateSize:   fs.Int("max-candidate-size", shm.DefaultMaxCandidateSize, "Largest candidate a slot holds (supervisor only)"),
		limit:              fs.Int64("limit", 0, "Stop after reading this many candidates, 0 for no limit (supervisor only)"),
		seed:               fs.Int64("seed", 0, "Random seed, 0 for a fresh one (generator only)"),
		metricsBindAddress: fs.String("metrics-bind-address", "", "Address to serve prometheus metrics on, empty to disable"),
	}
}

// Load reads the config file, if any, then applies the flags that were set
// explicitly on the command line and validates the result.
func (f *Flags) Load() (*Session, error) {
	s, err := Load(*f.ConfigFile)
	if err != nil {
		return nil, err
	}
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "name":
			s.Name = *f.name
		case "dir":
			s.Dir = *f.dir
		case "capacity":
			s.Capacity = *f.capacity
		case "max-candidate-size":
			s.MaxCandidateSize = *f.maxCandidateSize
		case "limit":
			s.Limit = *f.limit
		case "seed":
			s.Seed = *f.seed
		case "metrics-bind-address":
			s.MetricsBindAddress = *f.metricsBindAddress
		}
	})
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}
