package provider

import "strings"

// MaxChunkSize is the reply-correlating provider's per-message character
// limit for plan-body chunks.
const MaxChunkSize = 3996

// SplitChunks splits text into chunks no larger than limit characters,
// preferring to split at the last newline within the limit, then the
// last space, and only hard-cutting at the limit itself when no
// whitespace boundary is found past half the limit. Concatenating the
// returned chunks reproduces text, save for the newline/space characters
// consumed as split points.
func SplitChunks(text string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	if text == "" {
		return nil
	}

	var chunks []string
	minBoundary := limit / 2

	for len(text) > limit {
		cut := lastIndexBefore(text[:limit], '\n')
		consume := 1
		if cut < minBoundary {
			spaceCut := lastIndexBefore(text[:limit], ' ')
			if spaceCut >= minBoundary {
				cut = spaceCut
			} else {
				cut = limit
				consume = 0
			}
		}

		chunks = append(chunks, text[:cut])
		text = text[cut+consume:]
	}

	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastIndexBefore(s string, b byte) int {
	return strings.LastIndexByte(s, b)
}
