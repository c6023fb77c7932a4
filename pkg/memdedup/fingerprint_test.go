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
	"testing"
)

// randomContent returns n pseudo-random bytes from a fixed seed.
func randomContent(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

// mutateContent returns a copy of content with count bytes changed.
func mutateContent(content []byte, seed int64, count int) []byte {
	rng := rand.New(rand.NewSource(seed))
	mutated := append([]byte(nil), content...)
	for i := 0; i < count; i++ {
		mutated[rng.Intn(len(mutated))] ^= 0x5a
	}
	return mutated
}

func TestComputeFingerprintDeterministic(t *testing.T) {
	content := randomContent(1, 8192)
	fp1 := ComputeFingerprint(content)
	fp2 := ComputeFingerprint(append([]byte(nil), content...))
	if fp1 != fp2 {
		t.Errorf("fingerprints of identical content differ: %s vs %s", fp1, fp2)
	}
	if sim := Similarity(fp1, fp2); sim != 100 {
		t.Errorf("identical content similarity: expected 100, got %v", sim)
	}
}

func TestComputeFingerprintEmpty(t *testing.T) {
	fp := ComputeFingerprint(nil)
	if fp.Sig1 != "" || fp.Sig2 != "" {
		t.Errorf("empty content: expected empty signatures, got %s", fp)
	}
	full := ComputeFingerprint(randomContent(2, 8192))
	if sim := Similarity(fp, full); sim != 0 {
		t.Errorf("empty vs non-empty similarity: expected 0, got %v", sim)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a := ComputeFingerprint(randomContent(3, 8192))
	b := ComputeFingerprint(mutateContent(randomContent(3, 8192), 4, 16))
	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("similarity is not symmetric: %v vs %v",
			Similarity(a, b), Similarity(b, a))
	}
}

func TestSimilarityOrdering(t *testing.T) {
	base := randomContent(5, 8192)
	fpBase := ComputeFingerprint(base)
	fpNear := ComputeFingerprint(mutateContent(base, 6, 8))
	fpFar := ComputeFingerprint(randomContent(7, 8192))

	near := Similarity(fpBase, fpNear)
	far := Similarity(fpBase, fpFar)
	if near <= far {
		t.Errorf("lightly edited content (%v) should score above unrelated content (%v)",
			near, far)
	}
	if near < 50 {
		t.Errorf("lightly edited content scored too low: %v", near)
	}
}

func TestSimilarityRange(t *testing.T) {
	contents := [][]byte{
		nil,
		[]byte("x"),
		randomContent(8, 64),
		randomContent(9, 4096),
		randomContent(10, 65536),
	}
	for i, c1 := range contents {
		for j, c2 := range contents {
			sim := Similarity(ComputeFingerprint(c1), ComputeFingerprint(c2))
			if sim < 0 || sim > 100 {
				t.Errorf("similarity of contents %d and %d out of range: %v", i, j, sim)
			}
		}
	}
}

func TestBlockSizeFor(t *testing.T) {
	testCases := []struct {
		size     int
		expected int
	}{
		{0, 3},
		{100, 3},
		{192, 3},
		{193, 6},
		{4096, 96},
		{8192, 192},
	}
	for _, tc := range testCases {
		if bs := blockSizeFor(tc.size); bs != tc.expected {
			t.Errorf("blockSizeFor(%d): expected %d, got %d", tc.size, tc.expected, bs)
		}
	}
}

func TestEditDistance(t *testing.T) {
	testCases := []struct {
		s1, s2   string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"abcdef", "abdcef", 2},
	}
	for _, tc := range testCases {
		if d := editDistance(tc.s1, tc.s2); d != tc.expected {
			t.Errorf("editDistance(%q, %q): expected %d, got %d",
				tc.s1, tc.s2, tc.expected, d)
		}
	}
}
