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
	"sort"
)

// Clusterer groups applications into clusters of mutually similar
// fingerprints with bottom-up agglomerative merging and average linkage.
type Clusterer struct {
	config ClustererConfig
}

// NewClusterer creates a clusterer with the given configuration.
func NewClusterer(config ClustererConfig) *Clusterer {
	return &Clusterer{config: config}
}

// protoCluster is a cluster under construction.
type protoCluster struct {
	id      int
	members []int // app ids, sorted
}

// appPair is a cache key for pairwise application similarity.
type appPair struct {
	a, b int
}

// Cluster partitions the given applications. Each application gets its
// ClusterID assigned as a side effect. Zero applications yield zero clusters.
func (c *Clusterer) Cluster(apps []*Application) []*Cluster {
	if len(apps) == 0 {
		return nil
	}

	appByID := make(map[int]*Application, len(apps))
	active := make([]*protoCluster, 0, len(apps))
	for _, app := range apps {
		appByID[app.ID] = app
		active = append(active, &protoCluster{id: app.ID, members: []int{app.ID}})
	}
	sort.Slice(active, func(i, j int) bool { return active[i].id < active[j].id })

	simCache := make(map[appPair]float64)
	appSim := func(a, b int) float64 {
		key := appPair{a, b}
		if b < a {
			key = appPair{b, a}
		}
		if sim, ok := simCache[key]; ok {
			return sim
		}
		sim := Similarity(appByID[a].Fingerprint, appByID[b].Fingerprint)
		simCache[key] = sim
		return sim
	}

	// average linkage: mean pairwise similarity across cluster members
	linkage := func(c1, c2 *protoCluster) float64 {
		sum := 0.0
		for _, a := range c1.members {
			for _, b := range c2.members {
				sum += appSim(a, b)
			}
		}
		return sum / float64(len(c1.members)*len(c2.members))
	}

	for len(active) > 1 {
		bestI, bestJ := -1, -1
		bestSim := -1.0
		bestLo, bestHi := 0, 0
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				sim := linkage(active[i], active[j])
				lo, hi := active[i].members[0], active[j].members[0]
				if hi < lo {
					lo, hi = hi, lo
				}
				better := sim > bestSim
				if sim == bestSim {
					// deterministic tie-break on the smallest
					// member application ids
					better = lo < bestLo || (lo == bestLo && hi < bestHi)
				}
				if better {
					bestI, bestJ = i, j
					bestSim = sim
					bestLo, bestHi = lo, hi
				}
			}
		}
		if bestSim < c.config.SimilarityThreshold {
			break
		}

		src, dst := active[bestJ], active[bestI]
		log.Debug("merging clusters #%d and #%d (similarity %.2f)", dst.id, src.id, bestSim)
		dst.members = append(dst.members, src.members...)
		sort.Ints(dst.members)
		if src.id < dst.id {
			dst.id = src.id
		}
		active = append(active[:bestJ], active[bestJ+1:]...)
	}

	sort.Slice(active, func(i, j int) bool { return active[i].id < active[j].id })
	clusters := make([]*Cluster, 0, len(active))
	for _, pc := range active {
		clusters = append(clusters, &Cluster{ID: pc.id, AppIDs: pc.members})
		for _, appID := range pc.members {
			appByID[appID].ClusterID = pc.id
		}
	}

	log.Info("clustered %d applications into %d clusters", len(apps), len(clusters))
	stats.Store(StatsClusterRun{apps: len(apps), clusters: len(clusters)})

	return clusters
}
