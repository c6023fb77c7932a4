// Copyright 2023 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memdedup

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ClustererConfig configures application clustering.
type ClustererConfig struct {
	// SimilarityThreshold is the smallest average-linkage similarity two
	// clusters must have to get merged.
	SimilarityThreshold float64
}

// DetectorConfig configures genetic page similarity detection.
type DetectorConfig struct {
	// PopulationSize is the number of page pair candidates kept alive.
	PopulationSize int
	// Generations bounds the number of search iterations.
	Generations int
	// MutationRate is the per-offspring probability of mutating one pair
	// endpoint.
	MutationRate float64
	// FitnessThreshold is the smallest fitness score for a pair to be
	// reported as similar.
	FitnessThreshold float64
	// PlateauGenerations stops the search early after this many
	// generations without best fitness improvement.
	PlateauGenerations int
	// Seed seeds the random source. 0 means seed from the current time.
	Seed int64
}

// Config configures the whole analysis-and-merge pipeline.
type Config struct {
	Cluster  ClustererConfig
	Detector DetectorConfig
	// PageSizeBytes is the size of one memory page.
	PageSizeBytes int64
	// Workers is the number of concurrent per-cluster detection workers.
	// 0 means one worker per CPU.
	Workers int
}

const configDefaults = `{
    "Cluster": {"SimilarityThreshold": 30},
    "Detector": {
        "PopulationSize": 50,
        "Generations": 20,
        "MutationRate": 0.1,
        "FitnessThreshold": 70,
        "PlateauGenerations": 5
    },
    "PageSizeBytes": 4096
}`

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	c := &Config{}
	if err := json.Unmarshal([]byte(configDefaults), c); err != nil {
		// the defaults are a compile-time constant
		panic(err)
	}
	return c
}

// SetConfigJson reconfigures from a JSON string, on top of the defaults.
func (c *Config) SetConfigJson(configJSON string) error {
	cfg := DefaultConfig()
	if err := json.Unmarshal([]byte(configJSON), cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	*c = *cfg
	return nil
}

// GetConfigJson returns the current configuration as a JSON string.
func (c *Config) GetConfigJson() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.Cluster.SimilarityThreshold < 0 || c.Cluster.SimilarityThreshold > 100 {
		return errors.Errorf("invalid cluster similarity threshold: %v, expected 0-100",
			c.Cluster.SimilarityThreshold)
	}
	if c.Detector.PopulationSize <= 0 {
		return errors.Errorf("invalid population size: %d, > 0 expected",
			c.Detector.PopulationSize)
	}
	if c.Detector.Generations <= 0 {
		return errors.Errorf("invalid generation count: %d, > 0 expected",
			c.Detector.Generations)
	}
	if c.Detector.MutationRate < 0 || c.Detector.MutationRate > 1 {
		return errors.Errorf("invalid mutation rate: %v, expected 0-1",
			c.Detector.MutationRate)
	}
	if c.Detector.FitnessThreshold < 0 || c.Detector.FitnessThreshold > 100 {
		return errors.Errorf("invalid fitness threshold: %v, expected 0-100",
			c.Detector.FitnessThreshold)
	}
	if c.Detector.PlateauGenerations <= 0 {
		return errors.Errorf("invalid plateau generation count: %d, > 0 expected",
			c.Detector.PlateauGenerations)
	}
	if c.PageSizeBytes <= 0 {
		return errors.Errorf("invalid page size: %d, > 0 expected", c.PageSizeBytes)
	}
	if c.Workers < 0 {
		return errors.Errorf("invalid worker count: %d, >= 0 expected", c.Workers)
	}
	return nil
}
