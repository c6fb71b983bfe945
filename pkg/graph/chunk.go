package graph

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// tokenCounter reports the token count of a piece of text under the
// extraction model's encoding.
type tokenCounter func(string) int

func newTokenCounter(encoding string) (tokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// splitIntoChunks splits long text into extraction-sized chunks of at most
// maxTokens tokens each. Splitting happens on paragraph and sentence
// boundaries so entity mentions stay intact; a single sentence longer than
// maxTokens becomes its own oversized chunk rather than being cut mid-name.
// Text within the budget comes back as a single chunk.
func splitIntoChunks(text string, count tokenCounter, maxTokens int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if count(text) <= maxTokens {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		tokens  int
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			tokens = 0
		}
	}

	for _, sentence := range splitSentences(text) {
		n := count(sentence)
		if tokens > 0 && tokens+n > maxTokens {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
		tokens += n
	}
	flush()

	return chunks
}

// splitSentences breaks text into sentence-ish units: paragraph breaks
// always split, and within a paragraph, terminal punctuation followed by
// whitespace splits.
func splitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		start := 0
		runes := []rune(para)
		for i := 0; i < len(runes); i++ {
			if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
				continue
			}
			if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' && runes[i+1] != '\t' {
				continue
			}
			sentence := strings.TrimSpace(string(runes[start : i+1]))
			if sentence != "" {
				out = append(out, sentence)
			}
			start = i + 1
		}
		if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}
