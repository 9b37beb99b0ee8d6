// Package evalscoring implements the built-in scoring metrics quick eval
// uses to compare a model's generated text against an expected answer, with
// no external ML dependencies — matching
// original_source/app/services/eval/scoring.py's own no-nltk, no-sklearn
// constraint, which this tree carries forward rather than reaching for a
// Go NLP library the example pack never uses.
package evalscoring

import (
	"math"
	"regexp"
	"strings"
)

var (
	articleRe    = regexp.MustCompile(`\b(a|an|the)\b`)
	punctuationRe = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// normalize lowercases, strips articles and punctuation, and collapses
// whitespace — the same normalization accuracy() applies before comparing.
func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = articleRe.ReplaceAllString(text, " ")
	text = punctuationRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Accuracy is a normalized exact match: 1.0 if the normalized strings are
// equal, else 0.0.
func Accuracy(generated, expected string) float64 {
	if normalize(generated) == normalize(expected) {
		return 1.0
	}
	return 0.0
}

// ExactMatch is strict string equality after trimming.
func ExactMatch(generated, expected string) float64 {
	if strings.TrimSpace(generated) == strings.TrimSpace(expected) {
		return 1.0
	}
	return 0.0
}

func counter(tokens []string) map[string]int {
	c := make(map[string]int, len(tokens))
	for _, t := range tokens {
		c[t]++
	}
	return c
}

func sumCounts(c map[string]int) int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// F1Score is token-level precision/recall F1 over word overlap.
func F1Score(generated, expected string) float64 {
	genTokens := counter(tokenize(generated))
	expTokens := counter(tokenize(expected))

	if len(genTokens) == 0 || len(expTokens) == 0 {
		if len(genTokens) == 0 && len(expTokens) == 0 {
			return 1.0
		}
		return 0.0
	}

	common := 0
	for tok, n := range genTokens {
		if m := expTokens[tok]; m < n {
			common += m
		} else {
			common += n
		}
	}
	if common == 0 {
		return 0.0
	}

	precision := float64(common) / float64(sumCounts(genTokens))
	recall := float64(common) / float64(sumCounts(expTokens))
	return 2 * precision * recall / (precision + recall)
}

func ngrams(tokens []string, n int) map[string]int {
	c := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		c[strings.Join(tokens[i:i+n], "\x1f")]++
	}
	return c
}

// BLEUScore is a BLEU-4 score computed without any external dependency,
// mirroring scoring.py's bleu_score: n-gram precision geometric mean times a
// brevity penalty.
func BLEUScore(generated, expected string) float64 {
	const maxN = 4
	genTokens := tokenize(generated)
	refTokens := tokenize(expected)

	if len(genTokens) == 0 || len(refTokens) == 0 {
		if len(genTokens) == 0 && len(refTokens) == 0 {
			return 1.0
		}
		return 0.0
	}

	precisions := make([]float64, 0, maxN)
	for n := 1; n <= maxN; n++ {
		genNgrams := ngrams(genTokens, n)
		refNgrams := ngrams(refTokens, n)
		if len(genNgrams) == 0 {
			precisions = append(precisions, 0.0)
			continue
		}
		clipped := 0
		total := 0
		for ng, count := range genNgrams {
			if ref := refNgrams[ng]; ref < count {
				clipped += ref
			} else {
				clipped += count
			}
			total += count
		}
		precisions = append(precisions, float64(clipped)/float64(total))
	}

	for _, p := range precisions {
		if p == 0.0 {
			return 0.0
		}
	}

	logAvg := 0.0
	for _, p := range precisions {
		logAvg += math.Log(p)
	}
	logAvg /= float64(len(precisions))

	bp := 1.0
	if len(genTokens) < len(refTokens) {
		bp = math.Exp(1 - float64(len(refTokens))/float64(len(genTokens)))
	}
	return bp * math.Exp(logAvg)
}

// RougeL is the LCS-based F1 of scoring.py's rouge_l.
func RougeL(generated, expected string) float64 {
	genTokens := tokenize(generated)
	refTokens := tokenize(expected)

	if len(genTokens) == 0 || len(refTokens) == 0 {
		if len(genTokens) == 0 && len(refTokens) == 0 {
			return 1.0
		}
		return 0.0
	}

	m, n := len(refTokens), len(genTokens)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if refTokens[i-1] == genTokens[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] > dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	lcsLen := dp[m][n]
	if lcsLen == 0 {
		return 0.0
	}
	precision := float64(lcsLen) / float64(n)
	recall := float64(lcsLen) / float64(m)
	return 2 * precision * recall / (precision + recall)
}

// MetricFunctions mirrors scoring.py's METRIC_FUNCTIONS registry.
var MetricFunctions = map[string]func(generated, expected string) float64{
	"accuracy":    Accuracy,
	"exact_match": ExactMatch,
	"f1":          F1Score,
	"bleu":        BLEUScore,
	"rouge_l":     RougeL,
}

// ScoreExample scores one generated/expected pair across the requested
// metric names, skipping any name that isn't registered. A nil expected
// scores 0.0 for every requested metric — there is nothing to compare
// against, matching score_example's own behavior.
func ScoreExample(generated string, expected *string, metrics []string) map[string]float64 {
	scores := make(map[string]float64, len(metrics))
	for _, name := range metrics {
		fn, ok := MetricFunctions[name]
		if !ok {
			continue
		}
		if expected == nil {
			scores[name] = 0.0
			continue
		}
		scores[name] = fn(generated, *expected)
	}
	return scores
}
