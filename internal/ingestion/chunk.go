package ingestion

import "strings"

type span struct {
	Text  string
	Start int
	End   int
}

// chunkText splits content into overlapping chunks of approximately
// chunkSize characters, preferring to cut at a whitespace boundary to
// avoid mid-word splits, matching the teacher's fixedChunk algorithm
// (internal/rag/chunker/chunker.go) adapted from a token heuristic to the
// character-based chunk_size/chunk_overlap this domain's KnowledgeBase
// configures directly (spec.md §3).
func chunkText(content string, chunkSize, chunkOverlap int) []span {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}

	var out []span
	start := 0
	for start < len(content) {
		end := start + chunkSize
		if end > len(content) {
			end = len(content)
		} else if i := strings.LastIndex(content[start:end], " "); i > chunkSize/2 {
			end = start + i
		}
		text := strings.TrimSpace(content[start:end])
		if text != "" {
			out = append(out, span{Text: text, Start: start, End: end})
		}
		if end == len(content) {
			break
		}
		next := end - chunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}
