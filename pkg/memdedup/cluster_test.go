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
	"testing"

	"github.com/google/go-cmp/cmp"
)

// appFromContent builds an unclustered application over the given content.
func appFromContent(id int, content []byte) *Application {
	return &Application{
		ID:          id,
		Name:        "app",
		ClusterID:   NoCluster,
		Fingerprint: ComputeFingerprint(content),
	}
}

// twoFamilies returns five applications: ids 1-3 derived from one content
// base, ids 4-5 from an unrelated one.
func twoFamilies() []*Application {
	base1 := randomContent(100, 8192)
	base2 := randomContent(200, 8192)
	return []*Application{
		appFromContent(1, base1),
		appFromContent(2, mutateContent(base1, 101, 8)),
		appFromContent(3, mutateContent(base1, 102, 8)),
		appFromContent(4, base2),
		appFromContent(5, mutateContent(base2, 201, 8)),
	}
}

func TestClusterTwoFamilies(t *testing.T) {
	apps := twoFamilies()
	clusters := NewClusterer(DefaultConfig().Cluster).Cluster(apps)

	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(clusters), clusters)
	}
	expected := [][]int{{1, 2, 3}, {4, 5}}
	for i, cluster := range clusters {
		if diff := cmp.Diff(expected[i], cluster.AppIDs); diff != "" {
			t.Errorf("cluster %d members (-expected +got):\n%s", i, diff)
		}
		for _, app := range apps {
			if app.ClusterID == cluster.ID && !containsInt(cluster.AppIDs, app.ID) {
				t.Errorf("app %d assigned to cluster %d but not a member",
					app.ID, cluster.ID)
			}
		}
	}
}

func TestClusterAssignsClusterIDs(t *testing.T) {
	apps := twoFamilies()
	clusters := NewClusterer(DefaultConfig().Cluster).Cluster(apps)

	for _, app := range apps {
		if app.ClusterID == NoCluster {
			t.Errorf("app %d left unclustered", app.ID)
		}
	}
	for _, cluster := range clusters {
		for _, appID := range cluster.AppIDs {
			for _, app := range apps {
				if app.ID == appID && app.ClusterID != cluster.ID {
					t.Errorf("app %d: expected cluster %d, got %d",
						app.ID, cluster.ID, app.ClusterID)
				}
			}
		}
	}
}

func TestClusterEmpty(t *testing.T) {
	clusters := NewClusterer(DefaultConfig().Cluster).Cluster(nil)
	if clusters != nil {
		t.Errorf("expected no clusters for no applications, got %+v", clusters)
	}
}

func TestClusterSingleApplication(t *testing.T) {
	app := appFromContent(42, randomContent(300, 4096))
	clusters := NewClusterer(DefaultConfig().Cluster).Cluster([]*Application{app})

	if len(clusters) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(clusters))
	}
	if clusters[0].ID != 42 || app.ClusterID != 42 {
		t.Errorf("singleton cluster: expected id 42, got cluster %d, app %d",
			clusters[0].ID, app.ClusterID)
	}
}

func TestClusterDissimilarStaySeparate(t *testing.T) {
	apps := []*Application{
		appFromContent(1, randomContent(400, 8192)),
		appFromContent(2, randomContent(500, 8192)),
		appFromContent(3, randomContent(600, 8192)),
	}
	clusters := NewClusterer(ClustererConfig{SimilarityThreshold: 90}).Cluster(apps)
	if len(clusters) != 3 {
		t.Errorf("expected 3 singleton clusters, got %d: %+v", len(clusters), clusters)
	}
}

func TestClusterNoFurtherMerges(t *testing.T) {
	apps := twoFamilies()
	config := DefaultConfig().Cluster
	clusters := NewClusterer(config).Cluster(apps)

	fpByID := make(map[int]Fingerprint, len(apps))
	for _, app := range apps {
		fpByID[app.ID] = app.Fingerprint
	}

	// average linkage between any two resulting clusters stays below the
	// threshold, so re-clustering the output cannot merge further
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			sum, n := 0.0, 0
			for _, a := range clusters[i].AppIDs {
				for _, b := range clusters[j].AppIDs {
					sum += Similarity(fpByID[a], fpByID[b])
					n++
				}
			}
			if avg := sum / float64(n); avg >= config.SimilarityThreshold {
				t.Errorf("clusters %d and %d still mergeable (linkage %.2f)",
					clusters[i].ID, clusters[j].ID, avg)
			}
		}
	}
}

func TestClusterDeterministic(t *testing.T) {
	first := NewClusterer(DefaultConfig().Cluster).Cluster(twoFamilies())
	second := NewClusterer(DefaultConfig().Cluster).Cluster(twoFamilies())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated clustering differs (-first +second):\n%s", diff)
	}
}

func containsInt(ids []int, id int) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}
