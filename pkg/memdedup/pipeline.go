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
	"runtime"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// AppContent is the raw application byte content handed in by external
// collaborators for offline processing.
type AppContent struct {
	ID      int
	Name    string
	Content []byte
}

// OfflineResult is the outcome of one offline analysis run.
type OfflineResult struct {
	Applications []*Application
	Clusters     []*Cluster
	Pairs        []SimilarPagePair
	Index        *SharedPageIndex
	// NonConvergedClusters lists clusters whose page similarity search
	// exhausted its generation budget. Their pairs are still usable.
	NonConvergedClusters []int
}

// Pipeline sequences the offline analysis phase (fingerprinting, clustering,
// page similarity detection, index construction) and the online merge phase.
type Pipeline struct {
	config  *Config
	offline *OfflineResult
	deduper *Deduper
}

// NewPipeline creates a pipeline with the given configuration, or with the
// defaults if config is nil.
func NewPipeline(config *Config) (*Pipeline, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{config: config}, nil
}

// OfflineProcess fingerprints and clusters the given applications, detects
// similar pages inside each cluster, and builds the shared page index.
// Detection runs for separate clusters proceed in parallel.
func (p *Pipeline) OfflineProcess(apps []AppContent, pagesByApp map[int][]*Page) (*OfflineResult, error) {
	log.Info("offline processing %d applications", len(apps))

	result := &OfflineResult{}
	for _, app := range apps {
		result.Applications = append(result.Applications, &Application{
			ID:          app.ID,
			Name:        app.Name,
			ClusterID:   NoCluster,
			Fingerprint: ComputeFingerprint(app.Content),
		})
	}

	clusterer := NewClusterer(p.config.Cluster)
	result.Clusters = clusterer.Cluster(result.Applications)

	type clusterJob struct {
		cluster *Cluster
		pages   []*Page
		shard   *IndexShard
		pairs   []SimilarPagePair
		nonConv bool
	}

	jobs := make([]*clusterJob, 0, len(result.Clusters))
	for _, cluster := range result.Clusters {
		job := &clusterJob{cluster: cluster}
		for _, appID := range cluster.AppIDs {
			for _, page := range pagesByApp[appID] {
				if page.ContentHash == "" {
					page.ContentHash = HashContent(page.Content)
				}
				job.pages = append(job.pages, page)
			}
		}
		jobs = append(jobs, job)
	}

	workers := p.config.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	// per-cluster detection runs share no mutable state, the only
	// synchronization point is the shard union below
	jobC := make(chan *clusterJob)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobC {
				detector := NewDetector(p.detectorConfig(job.cluster.ID))
				detection := detector.Detect(job.pages)
				job.pairs = detection.Pairs
				job.nonConv = !detection.Converged
				job.shard = BuildShard(job.cluster.ID, detection.Pairs)
			}
		}()
	}
	for _, job := range jobs {
		jobC <- job
	}
	close(jobC)
	wg.Wait()

	var errs *multierror.Error
	index := NewSharedPageIndex()
	indexedPages := 0
	for _, job := range jobs {
		result.Pairs = append(result.Pairs, job.pairs...)
		if job.nonConv {
			result.NonConvergedClusters = append(result.NonConvergedClusters, job.cluster.ID)
		}
		if err := index.AddShard(job.shard); err != nil {
			errs = multierror.Append(errs,
				errors.Wrapf(err, "indexing cluster #%d", job.cluster.ID))
			continue
		}
		for _, group := range job.shard.Groups {
			indexedPages += len(group)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	result.Index = index
	stats.Store(StatsIndexBuilt{entries: len(index.Entries()), pages: indexedPages})
	log.Info("built index: %d entries covering %d pages, %d similar pairs",
		len(index.Entries()), indexedPages, len(result.Pairs))
	if len(result.NonConvergedClusters) > 0 {
		log.Warn("detection did not converge for clusters %v", result.NonConvergedClusters)
	}

	p.offline = result
	p.deduper = NewDeduper(index, p.config.PageSizeBytes)

	return result, nil
}

// detectorConfig derives a per-cluster detector configuration. With a fixed
// seed configured, every cluster gets its own deterministic stream.
func (p *Pipeline) detectorConfig(clusterID int) DetectorConfig {
	cfg := p.config.Detector
	if cfg.Seed != 0 {
		cfg.Seed += int64(clusterID) + 1
	}
	return cfg
}

// OnlineProcess merges the physical storage of the given VM pages using the
// index built by the preceding offline run.
func (p *Pipeline) OnlineProcess(vmPages map[int][]*Page) (*MergeReport, error) {
	if p.deduper == nil {
		return nil, errors.New("online processing requires a completed offline run")
	}
	return p.deduper.Merge(vmPages), nil
}

// Deduper returns the online deduplication engine of the last offline run.
func (p *Pipeline) Deduper() *Deduper {
	return p.deduper
}

// RunPipeline runs the complete offline then online pipeline.
func (p *Pipeline) RunPipeline(apps []AppContent, pagesByApp map[int][]*Page, vmPages map[int][]*Page) (*OfflineResult, *MergeReport, error) {
	offline, err := p.OfflineProcess(apps, pagesByApp)
	if err != nil {
		return nil, nil, err
	}
	report, err := p.OnlineProcess(vmPages)
	if err != nil {
		return offline, nil, err
	}
	return offline, report, nil
}

// Summary returns the combined outcome of the last offline and online runs
// in a JSON-friendly form.
func (p *Pipeline) Summary() map[string]interface{} {
	summary := map[string]interface{}{}
	if p.offline != nil {
		summary["applications"] = len(p.offline.Applications)
		summary["clusters"] = len(p.offline.Clusters)
		summary["similar_pairs"] = len(p.offline.Pairs)
		summary["index_entries"] = len(p.offline.Index.Entries())
		summary["non_converged_clusters"] = len(p.offline.NonConvergedClusters)
	}
	if p.deduper != nil {
		report := p.deduper.Report()
		summary["pages_merged"] = report.PagesMerged
		summary["memory_saved_bytes"] = report.MemorySavedBytes
		summary["duplicate_instances"] = report.DuplicateInstances
	}
	return summary
}
