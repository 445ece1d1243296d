// Package guard screens user queries before they reach the LLM pipeline.
package guard

import (
	"regexp"
	"strings"

	"github.com/shopgraph/shopgraph/internal/shoperr"
)

// MaxQueryLength bounds the accepted query size in bytes.
const MaxQueryLength = 4096

type injectionPattern struct {
	re     *regexp.Regexp
	weight float64
	label  string
}

var injectionPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`), 1.0, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)disregard\s+(your\s+|all\s+)?instructions?`), 1.0, "disregard instructions"},
	{regexp.MustCompile(`(?i)forget\s+(everything|all|your\s+instructions?)`), 1.0, "forget instructions"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+a`), 0.9, "role hijack"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), 0.8, "role hijack"},
	{regexp.MustCompile(`(?i)reveal\s+(your\s+)?(system\s+)?prompt`), 0.9, "prompt disclosure"},
	{regexp.MustCompile(`(?i)new\s+instructions?:`), 0.7, "instruction override"},
	{regexp.MustCompile(`\[/?(?i:system|inst)\]`), 0.8, "delimiter injection"},
}

// detectionThreshold is the cumulative weight above which a query is rejected.
const detectionThreshold = 0.7

// Screen validates a raw user query and returns the trimmed form.
// Queries that are empty, oversized, contain control bytes, or score
// above the injection threshold are rejected with a validation error.
func Screen(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", shoperr.Newf(shoperr.CodeValidationFailure, "query must not be empty")
	}
	if len(q) > MaxQueryLength {
		return "", shoperr.Newf(shoperr.CodeValidationFailure, "query exceeds %d bytes", MaxQueryLength)
	}
	if strings.ContainsRune(q, 0) {
		return "", shoperr.Newf(shoperr.CodeValidationFailure, "query contains null bytes")
	}
	for _, r := range q {
		if r < 32 && r != '\n' && r != '\t' && r != '\r' {
			return "", shoperr.Newf(shoperr.CodeValidationFailure, "query contains control characters")
		}
	}
	if label, score := injectionScore(q); score >= detectionThreshold {
		return "", shoperr.Newf(shoperr.CodeValidationFailure, "query rejected: %s", label)
	}
	return q, nil
}

func injectionScore(q string) (string, float64) {
	var (
		total float64
		first string
	)
	for _, p := range injectionPatterns {
		if p.re.MatchString(q) {
			total += p.weight
			if first == "" {
				first = p.label
			}
		}
	}
	return first, total
}
