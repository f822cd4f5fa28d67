package chunker

import (
	"strings"

	"github.com/glimmer-ai/lorekeeper/pkg/knowledge"
)

// ContentType selects a chunking configuration.
type ContentType string

const (
	ContentTypeGeneric  ContentType = "generic"
	ContentTypeLongform ContentType = "longform"
)

// Config bounds chunk sizes in characters. Overlap carries the tail of
// one chunk into the head of the next so a concept spanning a boundary
// is not lost.
type Config struct {
	TargetSize int
	Overlap    int
	HardMax    int
}

var configs = map[ContentType]Config{
	ContentTypeGeneric:  {TargetSize: 1000, Overlap: 100, HardMax: 1400},
	ContentTypeLongform: {TargetSize: 2000, Overlap: 200, HardMax: 2800},
}

// ConfigFor returns the chunking configuration for a content type,
// falling back to the generic one.
func ConfigFor(contentType ContentType) Config {
	if cfg, ok := configs[contentType]; ok {
		return cfg
	}
	return configs[ContentTypeGeneric]
}

// Split produces the ordered chunks for text under the given config.
// Identical input and config always produce identical chunks, which is
// what makes re-vectorization idempotent.
func Split(text string, cfg Config) []knowledge.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if cfg.TargetSize <= 0 {
		cfg = configs[ContentTypeGeneric]
	}
	if cfg.HardMax < cfg.TargetSize {
		cfg.HardMax = cfg.TargetSize
	}
	if cfg.Overlap >= cfg.TargetSize {
		cfg.Overlap = cfg.TargetSize / 4
	}

	if len(text) <= cfg.HardMax {
		return []knowledge.Chunk{{Index: 0, Text: text, TotalChunks: 1}}
	}

	segments := splitSegments(text, cfg)

	var texts []string
	var current strings.Builder
	for _, seg := range segments {
		if current.Len() > 0 && current.Len()+len(seg)+1 > cfg.TargetSize {
			texts = append(texts, current.String())
			tail := overlapTail(current.String(), cfg.Overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(" ")
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(seg)
	}
	if strings.TrimSpace(current.String()) != "" {
		texts = append(texts, current.String())
	}

	chunks := make([]knowledge.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = knowledge.Chunk{Index: i, Text: strings.TrimSpace(t), TotalChunks: len(texts)}
	}
	return chunks
}

// splitSegments breaks text on paragraph boundaries, then sentences,
// then hard character cuts for anything still over the hard cap.
func splitSegments(text string, cfg Config) []string {
	var segments []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= cfg.TargetSize {
			segments = append(segments, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			if len(sentence) <= cfg.HardMax {
				segments = append(segments, sentence)
				continue
			}
			for _, piece := range hardCut(sentence, cfg.HardMax) {
				segments = append(segments, piece)
			}
		}
	}
	return segments
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Sentence ends only when followed by whitespace or EOF.
			if i == len(runes)-1 || runes[i+1] == ' ' || runes[i+1] == '\n' {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" {
					sentences = append(sentences, sentence)
				}
				current.Reset()
			}
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func hardCut(text string, size int) []string {
	var pieces []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// overlapTail returns the last overlap characters of text, extended left
// to the nearest word boundary. Slicing happens on runes so the cut can
// never land inside a multi-byte character.
func overlapTail(text string, overlap int) string {
	runes := []rune(strings.TrimSpace(text))
	if overlap <= 0 || len(runes) <= overlap {
		return ""
	}
	tail := string(runes[len(runes)-overlap:])
	if idx := strings.IndexAny(tail, " \n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
