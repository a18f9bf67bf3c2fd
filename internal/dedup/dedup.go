// Package dedup derives content-addressed chunk identities and filters
// batches down to the chunks a collection has not stored yet.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
)

// Identity returns the lowercase hex SHA-256 of text. Two chunks with the
// same text always share an identity, whatever file they came from.
func Identity(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Identities maps Identity over texts.
func Identities(texts []string) []string {
	ids := make([]string, len(texts))
	for i, t := range texts {
		ids[i] = Identity(t)
	}
	return ids
}

// Fresh returns the indexes of ids that are absent from existing, in order.
// Repeated ids within the batch are reported once, at their first position.
func Fresh(ids, existing []string) []int {
	seen := make(map[string]struct{}, len(existing)+len(ids))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	var out []int
	for i, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, i)
	}
	return out
}

// Unique drops exact duplicate texts, keeping first-seen order.
func Unique(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
