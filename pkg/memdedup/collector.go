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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/memory-dedup-manager/pkg/metrics"
)

var (
	pagesMergedDesc = prometheus.NewDesc(
		"memdedup_pages_merged_total",
		"Number of page instances whose physical storage was deduplicated.",
		nil, nil,
	)
	bytesSavedDesc = prometheus.NewDesc(
		"memdedup_memory_saved_bytes_total",
		"Number of memory bytes saved by page merging.",
		nil, nil,
	)
	cowUnsharesDesc = prometheus.NewDesc(
		"memdedup_cow_unshares_total",
		"Number of copy-on-write unshare events.",
		nil, nil,
	)
	duplicatesDesc = prometheus.NewDesc(
		"memdedup_duplicate_instances_total",
		"Number of duplicate page instances rejected from merge batches.",
		nil, nil,
	)
	gaGenerationsDesc = prometheus.NewDesc(
		"memdedup_ga_generations_total",
		"Number of genetic search generations run.",
		nil, nil,
	)
	nonConvergedDesc = prometheus.NewDesc(
		"memdedup_non_converged_runs_total",
		"Number of detector runs that exhausted their generation budget.",
		nil, nil,
	)
	clustersFormedDesc = prometheus.NewDesc(
		"memdedup_clusters_formed_total",
		"Number of application clusters formed.",
		nil, nil,
	)
	indexEntriesDesc = prometheus.NewDesc(
		"memdedup_index_entries_total",
		"Number of shared page entries built.",
		nil, nil,
	)
)

// collector exposes the package statistics as prometheus metrics.
type collector struct{}

// NewCollector creates the prometheus collector of deduplication statistics.
func NewCollector() (prometheus.Collector, error) {
	return &collector{}, nil
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pagesMergedDesc
	ch <- bytesSavedDesc
	ch <- cowUnsharesDesc
	ch <- duplicatesDesc
	ch <- gaGenerationsDesc
	ch <- nonConvergedDesc
	ch <- clustersFormedDesc
	ch <- indexEntriesDesc
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	summary := GetStats().Summary()
	counters := []struct {
		desc *prometheus.Desc
		key  string
	}{
		{pagesMergedDesc, "pages_merged"},
		{bytesSavedDesc, "bytes_saved"},
		{cowUnsharesDesc, "cow_unshares"},
		{duplicatesDesc, "duplicate_instances"},
		{gaGenerationsDesc, "ga_generations"},
		{nonConvergedDesc, "non_converged_runs"},
		{clustersFormedDesc, "clusters_formed"},
		{indexEntriesDesc, "index_entries"},
	}
	for _, counter := range counters {
		ch <- prometheus.MustNewConstMetric(counter.desc,
			prometheus.CounterValue, float64(summary[counter.key]))
	}
}

func init() {
	err := metrics.RegisterCollector("memdedup", NewCollector)
	if err != nil {
		log.Error("failed to register collector: %v", err)
	}
}
