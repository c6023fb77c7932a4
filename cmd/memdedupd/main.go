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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/yaml"

	logger "github.com/intel/memory-dedup-manager/pkg/log"
	"github.com/intel/memory-dedup-manager/pkg/memdedup"
	"github.com/intel/memory-dedup-manager/pkg/metrics"
	"github.com/intel/memory-dedup-manager/pkg/pidfile"
	_ "github.com/intel/memory-dedup-manager/pkg/version"
)

var log = logger.NewLogger("memdedupd")

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, fmt.Sprintf("memdedupd: "+format+"\n", a...))
	os.Exit(1)
}

// scenario is the workload description read from the configuration file:
// which application images take part in the analysis, and which of them each
// VM maps.
type scenario struct {
	Pipeline     *memdedup.Config `json:"pipeline"`
	Applications []scenarioApp    `json:"applications"`
	VMs          []scenarioVM     `json:"vms"`
}

type scenarioApp struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// Path points to the application image whose static pages are analyzed.
	Path string `json:"path"`
}

type scenarioVM struct {
	ID   int   `json:"id"`
	Apps []int `json:"apps"`
}

func readScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read scenario %q", path)
	}
	// a partial pipeline section overlays the defaults
	s := &scenario{Pipeline: memdedup.DefaultConfig()}
	if err := yaml.UnmarshalStrict(data, s); err != nil {
		return nil, errors.Wrapf(err, "cannot parse scenario %q", path)
	}
	if len(s.Applications) == 0 {
		return nil, errors.Errorf("scenario %q lists no applications", path)
	}
	return s, nil
}

// paginate splits content into page-size chunks, assigning ids from *nextID.
func paginate(content []byte, appID int, pageSize int64, nextID *int) []*memdedup.Page {
	var pages []*memdedup.Page
	for off := int64(0); off < int64(len(content)); off += pageSize {
		end := off + pageSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		pages = append(pages, memdedup.NewPage(*nextID, 0, appID, content[off:end]))
		*nextID++
	}
	return pages
}

// loadWorkload turns the scenario into pipeline input. VMs mapping the same
// application map the same page ids.
func loadWorkload(s *scenario, pageSize int64) ([]memdedup.AppContent, map[int][]*memdedup.Page, map[int][]*memdedup.Page, error) {
	apps := make([]memdedup.AppContent, 0, len(s.Applications))
	pagesByApp := make(map[int][]*memdedup.Page)
	nextID := 1

	for _, app := range s.Applications {
		content, err := os.ReadFile(app.Path)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "cannot read application %q image", app.Name)
		}
		if _, dup := pagesByApp[app.ID]; dup {
			return nil, nil, nil, errors.Errorf("duplicate application id %d", app.ID)
		}
		apps = append(apps, memdedup.AppContent{ID: app.ID, Name: app.Name, Content: content})
		pagesByApp[app.ID] = paginate(content, app.ID, pageSize, &nextID)
		log.Debug("application %q: %d bytes, %d pages",
			app.Name, len(content), len(pagesByApp[app.ID]))
	}

	vmPages := make(map[int][]*memdedup.Page)
	for _, vm := range s.VMs {
		for _, appID := range vm.Apps {
			pages, ok := pagesByApp[appID]
			if !ok {
				return nil, nil, nil, errors.Errorf("vm %d maps unknown application %d",
					vm.ID, appID)
			}
			for _, page := range pages {
				vmPages[vm.ID] = append(vmPages[vm.ID],
					memdedup.NewPage(page.ID, vm.ID, appID, page.Content))
			}
		}
	}

	return apps, pagesByApp, vmPages, nil
}

func serveMetrics(addr string) {
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		exit("failed to set up metrics: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	go func() {
		log.Info("serving metrics on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server failed: %v", err)
		}
	}()
}

func writeReport(pipeline *memdedup.Pipeline, path string) error {
	report := map[string]interface{}{
		"summary":    pipeline.Summary(),
		"statistics": memdedup.GetStats(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal report")
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func main() {
	optConfig := flag.String("config", "", "-config=FILE scenario configuration (required)")
	optOutput := flag.String("output", "", "-output=FILE write the JSON report here instead of stdout")
	optMetricsAddr := flag.String("metrics-addr", "", "-metrics-addr=ADDR serve prometheus metrics, keep running after the report")
	optPidFile := flag.String("pidfile", "", "-pidfile=FILE write the process id here while running")
	logger.RegisterFlags(flag.CommandLine)

	flag.Parse()

	if *optConfig == "" {
		exit("missing -config=FILE")
	}

	if *optPidFile != "" {
		pidfile.SetPath(*optPidFile)
		if err := pidfile.Write(); err != nil {
			exit("%v", err)
		}
		defer pidfile.Remove()
	}

	s, err := readScenario(*optConfig)
	if err != nil {
		exit("%v", err)
	}

	config := s.Pipeline
	pipeline, err := memdedup.NewPipeline(config)
	if err != nil {
		exit("%v", err)
	}

	if *optMetricsAddr != "" {
		serveMetrics(*optMetricsAddr)
	}

	apps, pagesByApp, vmPages, err := loadWorkload(s, config.PageSizeBytes)
	if err != nil {
		exit("%v", err)
	}

	offline, report, err := pipeline.RunPipeline(apps, pagesByApp, vmPages)
	if err != nil {
		exit("%v", err)
	}
	log.Info("%d clusters, %d shared page entries, %d pages merged, %d bytes saved",
		len(offline.Clusters), len(offline.Index.Entries()),
		report.PagesMerged, report.MemorySavedBytes)

	if err := writeReport(pipeline, *optOutput); err != nil {
		exit("%v", err)
	}

	if *optMetricsAddr != "" {
		// stay up for scraping
		select {}
	}
}
