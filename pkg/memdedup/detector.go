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
	"math/rand"
	"sort"
	"time"
)

// Detector searches for similar page pairs inside one cluster's page set with
// a genetic algorithm. The search trades completeness for a configurable
// budget: it converges toward high-similarity pairs without comparing all
// O(n^2) page contents.
type Detector struct {
	config DetectorConfig
	rng    *rand.Rand
}

// NewDetector creates a detector with the given configuration.
func NewDetector(config DetectorConfig) *Detector {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Detector{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// chromosome is a candidate page pair, as indexes into the page set, i < j.
type chromosome struct {
	i, j int
}

// DetectionResult is the best-effort outcome of one detector run.
type DetectionResult struct {
	// Pairs are the detected similar pairs in canonical order.
	Pairs []SimilarPagePair
	// Converged is false if the run exhausted its generation budget while
	// best fitness was still improving.
	Converged bool
	// Generations is the number of generations actually run.
	Generations int
	// BestFitness is the best fitness seen across all generations.
	BestFitness float64
}

// Detect runs the genetic search over the given pages. Fewer than two pages
// yield an empty result. Non-convergence is reported on the result, never as
// an error.
func (d *Detector) Detect(pages []*Page) *DetectionResult {
	result := &DetectionResult{Converged: true}
	n := len(pages)
	if n < 2 {
		return result
	}

	fps := make([]Fingerprint, n)
	for i, page := range pages {
		fps[i] = ComputeFingerprint(page.Content)
	}

	// fitness of every chromosome ever evaluated
	evaluated := make(map[chromosome]float64)
	fitness := func(ch chromosome) float64 {
		if fit, ok := evaluated[ch]; ok {
			return fit
		}
		var fit float64
		if pages[ch.i].ContentHash != "" && pages[ch.i].ContentHash == pages[ch.j].ContentHash {
			// exact content match, skip digest comparison
			fit = 100
		} else {
			fit = Similarity(fps[ch.i], fps[ch.j])
		}
		evaluated[ch] = fit
		return fit
	}

	population := d.initialPopulation(n)

	var bestChrom chromosome
	bestFit := -1.0
	plateau := 0

	for gen := 0; gen < d.config.Generations; gen++ {
		result.Generations = gen + 1

		improved := false
		for _, ch := range population {
			if fit := fitness(ch); fit > bestFit {
				bestFit = fit
				bestChrom = ch
				improved = true
			}
		}
		if improved {
			plateau = 0
		} else {
			plateau++
		}
		if plateau >= d.config.PlateauGenerations {
			log.Debug("search converged after %d generations (best fitness %.2f)",
				gen+1, bestFit)
			break
		}
		if gen == d.config.Generations-1 {
			result.Converged = false
			log.Warn("search did not converge in %d generations (best fitness %.2f)",
				d.config.Generations, bestFit)
			break
		}

		population = d.nextGeneration(population, fitness, n)
		// elitism, never lose the best candidate seen so far
		population[0] = bestChrom
	}

	for ch, fit := range evaluated {
		if fit >= d.config.FitnessThreshold {
			result.Pairs = append(result.Pairs,
				NewSimilarPagePair(pages[ch.i].ID, pages[ch.j].ID, fit))
		}
	}
	sort.Slice(result.Pairs, func(i, j int) bool {
		if result.Pairs[i].PageA != result.Pairs[j].PageA {
			return result.Pairs[i].PageA < result.Pairs[j].PageA
		}
		return result.Pairs[i].PageB < result.Pairs[j].PageB
	})
	result.BestFitness = bestFit

	stats.Store(StatsDetection{
		pairs:       len(result.Pairs),
		generations: result.Generations,
		converged:   result.Converged,
	})

	return result
}

// initialPopulation samples chromosomes uniformly without replacement from
// all unordered page pairs. If there are fewer possible pairs than the
// population size, the full pair set is used.
func (d *Detector) initialPopulation(n int) []chromosome {
	totalPairs := n * (n - 1) / 2
	if totalPairs <= d.config.PopulationSize {
		population := make([]chromosome, 0, totalPairs)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				population = append(population, chromosome{i, j})
			}
		}
		return population
	}

	seen := make(map[chromosome]struct{}, d.config.PopulationSize)
	population := make([]chromosome, 0, d.config.PopulationSize)
	for len(population) < d.config.PopulationSize {
		ch := chromosome{d.rng.Intn(n), d.rng.Intn(n)}
		if ch.i == ch.j {
			continue
		}
		if ch.j < ch.i {
			ch.i, ch.j = ch.j, ch.i
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		population = append(population, ch)
	}
	return population
}

// nextGeneration breeds a new population with fitness-proportionate selection
// followed by per-offspring mutation.
func (d *Detector) nextGeneration(population []chromosome, fitness func(chromosome) float64, n int) []chromosome {
	// cumulative fitness for roulette-wheel selection; zero-fitness
	// chromosomes get zero selection probability
	cumulative := make([]float64, len(population))
	total := 0.0
	for k, ch := range population {
		total += fitness(ch)
		cumulative[k] = total
	}

	next := make([]chromosome, len(population))
	for k := range next {
		var offspring chromosome
		if total == 0 {
			offspring = population[d.rng.Intn(len(population))]
		} else {
			r := d.rng.Float64() * total
			offspring = population[sort.SearchFloat64s(cumulative, r)]
		}
		if d.rng.Float64() < d.config.MutationRate {
			offspring = d.mutate(offspring, n)
		}
		next[k] = offspring
	}
	return next
}

// mutate replaces one endpoint of the pair with a different random page,
// never producing a pair of a page with itself.
func (d *Detector) mutate(ch chromosome, n int) chromosome {
	keep := ch.i
	if d.rng.Intn(2) == 0 {
		keep = ch.j
	}
	for {
		other := d.rng.Intn(n)
		if other == keep {
			continue
		}
		if other < keep {
			return chromosome{other, keep}
		}
		return chromosome{keep, other}
	}
}
