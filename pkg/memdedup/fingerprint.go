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
	"fmt"
)

// Fingerprint is an approximate-match digest of byte content. The content is
// split into chunks at rolling-hash trigger points and every chunk contributes
// one symbol to a signature, so a small edit perturbs only the symbols of the
// chunks it touches. Two signature scales are kept (chunk trigger BlockSize
// and 2*BlockSize) so that contents of somewhat different sizes remain
// comparable. The zero value with empty signatures is the sentinel for empty
// input.
type Fingerprint struct {
	BlockSize int
	Sig1      string
	Sig2      string
}

const (
	// minBlockSize is the smallest chunk trigger size.
	minBlockSize = 3
	// sigMaxLen bounds the length of the first-scale signature.
	sigMaxLen = 64
	// rollingWindow is the byte window of the rolling hash.
	rollingWindow = 7

	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fpChars is the symbol alphabet of signature characters.
const fpChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// rollingHash is a windowed rolling hash over the last rollingWindow bytes,
// used only to pick chunk boundaries.
type rollingHash struct {
	window     [rollingWindow]byte
	h1, h2, h3 uint32
	n          uint32
}

func (r *rollingHash) roll(c byte) uint32 {
	r.h2 -= r.h1
	r.h2 += rollingWindow * uint32(c)
	r.h1 += uint32(c)
	r.h1 -= uint32(r.window[r.n%rollingWindow])
	r.window[r.n%rollingWindow] = c
	r.n++
	r.h3 = (r.h3 << 5) ^ uint32(c)
	return r.h1 + r.h2 + r.h3
}

// blockSizeFor picks the chunk trigger size so that the expected signature
// length of content of size n fits in sigMaxLen symbols.
func blockSizeFor(n int) int {
	bs := minBlockSize
	for bs*sigMaxLen < n {
		bs *= 2
	}
	return bs
}

// ComputeFingerprint produces the fuzzy digest of the given content. It is
// pure: identical content always yields an identical fingerprint.
func ComputeFingerprint(data []byte) Fingerprint {
	bs := blockSizeFor(len(data))
	for {
		fp := fingerprintAt(data, bs)
		if bs <= minBlockSize || len(fp.Sig1) >= sigMaxLen/2 {
			return fp
		}
		// signature came out too short to be discriminative, retry
		// with a finer chunk trigger
		bs /= 2
	}
}

func fingerprintAt(data []byte, bs int) Fingerprint {
	fp := Fingerprint{BlockSize: bs}
	if len(data) == 0 {
		return fp
	}

	var roll rollingHash
	var sig1, sig2 []byte
	h1 := uint32(fnvOffset32)
	h2 := uint32(fnvOffset32)

	for _, c := range data {
		rv := roll.roll(c)
		h1 = (h1 ^ uint32(c)) * fnvPrime32
		h2 = (h2 ^ uint32(c)) * fnvPrime32
		if rv%uint32(bs) == uint32(bs)-1 {
			if len(sig1) < sigMaxLen-1 {
				sig1 = append(sig1, fpChars[h1%64])
				h1 = fnvOffset32
			}
			if rv%uint32(2*bs) == uint32(2*bs)-1 {
				if len(sig2) < sigMaxLen/2-1 {
					sig2 = append(sig2, fpChars[h2%64])
					h2 = fnvOffset32
				}
			}
		}
	}

	// the trailing partial chunk contributes a final symbol
	if h1 != fnvOffset32 {
		sig1 = append(sig1, fpChars[h1%64])
	}
	if h2 != fnvOffset32 {
		sig2 = append(sig2, fpChars[h2%64])
	}

	fp.Sig1 = string(sig1)
	fp.Sig2 = string(sig2)
	return fp
}

func (fp Fingerprint) String() string {
	return fmt.Sprintf("%d:%s:%s", fp.BlockSize, fp.Sig1, fp.Sig2)
}

// Similarity scores two fingerprints on a 0-100 scale. The score is symmetric,
// identical fingerprints score 100, and a smaller edit distance between the
// underlying contents never yields a lower score than a larger one.
func Similarity(a, b Fingerprint) float64 {
	if a.BlockSize == b.BlockSize && a.Sig1 == b.Sig1 && a.Sig2 == b.Sig2 {
		return 100
	}
	switch {
	case a.BlockSize == b.BlockSize:
		s1 := signatureSimilarity(a.Sig1, b.Sig1)
		s2 := signatureSimilarity(a.Sig2, b.Sig2)
		if s2 > s1 {
			return s2
		}
		return s1
	case a.BlockSize == 2*b.BlockSize:
		return signatureSimilarity(a.Sig1, b.Sig2)
	case b.BlockSize == 2*a.BlockSize:
		return signatureSimilarity(a.Sig2, b.Sig1)
	}
	// no comparable scale
	return 0
}

// signatureSimilarity is 100 * (1 - d/maxlen) with d the edit distance of the
// signature strings, clamped to [0, 100].
func signatureSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		if len(s1) == 0 {
			return 0
		}
		return 100
	}
	maxLen := len(s1)
	if len(s2) > maxLen {
		maxLen = len(s2)
	}
	score := float64(maxLen-editDistance(s1, s2)) / float64(maxLen) * 100
	if score < 0 {
		return 0
	}
	return score
}

// editDistance is the Levenshtein distance of two strings, two-row iterative
// form.
func editDistance(s1, s2 string) int {
	if len(s1) < len(s2) {
		s1, s2 = s2, s1
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 0; i < len(s1); i++ {
		curr[0] = i + 1
		for j := 0; j < len(s2); j++ {
			ins := prev[j+1] + 1
			del := curr[j] + 1
			sub := prev[j]
			if s1[i] != s2[j] {
				sub++
			}
			min := ins
			if del < min {
				min = del
			}
			if sub < min {
				min = sub
			}
			curr[j+1] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
