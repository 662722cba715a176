package postmeeting

import (
	"strings"

	"github.com/go-dedup/simhash"
)

// dedupThreshold is the Hamming distance at or under which two extracted
// lines count as near-duplicates. English meeting chatter repeats itself
// ("I finished the migration" / "finished the migration yesterday"), so the
// summary keeps only one representative of each cluster.
const dedupThreshold = 10

// lineFeatureSet feeds word-level bigrams of one extracted line into the
// simhash fingerprint. Word bigrams work better than character windows for
// English sentences.
type lineFeatureSet struct {
	text string
}

func (l lineFeatureSet) GetFeatures() []simhash.Feature {
	words := strings.Fields(strings.ToLower(l.text))
	features := make([]simhash.Feature, 0, len(words))

	for i := 0; i < len(words)-1; i++ {
		features = append(features, simhash.NewFeature([]byte(words[i]+" "+words[i+1])))
	}
	// Short lines fall back to unigrams so they still fingerprint.
	if len(words) < 3 {
		for _, w := range words {
			features = append(features, simhash.NewFeature([]byte(w)))
		}
	}
	return features
}

// fingerprint computes the 64-bit simhash of one line.
func fingerprint(text string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(lineFeatureSet{text: text})
}

// hammingDistance counts differing bits between two fingerprints.
func hammingDistance(a, b uint64) int {
	x := a ^ b
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}

// dedupeLines drops lines whose fingerprint is within dedupThreshold of an
// earlier kept line, preserving first-seen order.
func dedupeLines(lines []string) []string {
	var kept []string
	var hashes []uint64

	for _, line := range lines {
		h := fingerprint(line)
		dup := false
		for _, prev := range hashes {
			if hammingDistance(h, prev) <= dedupThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, line)
			hashes = append(hashes, h)
		}
	}
	return kept
}
