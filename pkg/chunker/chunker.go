// Package chunker splits extracted document text into overlapping chunks
// along section and sentence boundaries.
package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/finvault/bankrag/internal/models"
)

type Config struct {
	ChunkSize    int // token budget per chunk, ~4 chars per token
	ChunkOverlap int // tokens carried over between adjacent chunks
}

type Chunker struct {
	config Config
}

func NewWithConfig(config Config) *Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}
	return &Chunker{config: config}
}

// Section heading patterns common in financial reports.
var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,3}\s+.+`),
	regexp.MustCompile(`(?i)^(?:Chapter|Section|Part)\s+\d+`),
	regexp.MustCompile(`(?i)^(?:Executive Summary|Financial Highlights|Risk Factors)`),
	regexp.MustCompile(`(?i)^(?:Balance Sheet|Income Statement|Cash Flow)`),
	regexp.MustCompile(`(?i)^(?:Notes to |Management Discussion|Auditor)`),
	regexp.MustCompile(`^\d+\.\s+[A-Z]`),
}

var figureMarkers = []string{"figure", "chart", "graph", "exhibit", "fig."}

// ChunkDocument splits the pages of a cracked document into chunks.
// Sections containing tables stay intact; long sections are split by
// sentences with overlap.
func (c *Chunker) ChunkDocument(pages []models.PageContent, filename string) []models.Chunk {
	var chunks []models.Chunk
	chunkIndex := 0

	appendChunk := func(content string, page int, hasTable, hasFigureRef bool, section string) {
		chunks = append(chunks, models.Chunk{
			ID:             fmt.Sprintf("%s_p%d_c%d", filename, page, chunkIndex),
			Content:        content,
			PageNumber:     page,
			ChunkIndex:     chunkIndex,
			TokenCount:     estimateTokens(content),
			HasTable:       hasTable,
			HasFigureRef:   hasFigureRef,
			SectionTitle:   section,
			SourceDocument: filename,
		})
		chunkIndex++
	}

	for _, page := range pages {
		for _, section := range splitIntoSections(page.Text) {
			text := strings.TrimSpace(section.body)
			if text == "" {
				continue
			}

			// Tables lose their meaning when split; keep the section whole.
			if containsTable(text) {
				appendChunk(text, page.PageNumber, true, false, section.title)
				continue
			}

			hasFigureRef := referencesFigure(text)

			if estimateTokens(text) > c.config.ChunkSize {
				for _, sub := range c.chunkWithOverlap(text) {
					appendChunk(sub, page.PageNumber, false, hasFigureRef, section.title)
				}
			} else {
				appendChunk(text, page.PageNumber, false, hasFigureRef, section.title)
			}
		}
	}

	return chunks
}

type section struct {
	title string
	body  string
}

func splitIntoSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	currentTitle := ""
	var currentLines []string

	for _, line := range lines {
		if isSectionHeader(strings.TrimSpace(line)) && len(currentLines) > 0 {
			sections = append(sections, section{title: currentTitle, body: strings.Join(currentLines, "\n")})
			currentTitle = strings.TrimSpace(line)
			currentLines = nil
		} else {
			currentLines = append(currentLines, line)
		}
	}

	if len(currentLines) > 0 {
		sections = append(sections, section{title: currentTitle, body: strings.Join(currentLines, "\n")})
	}

	if len(sections) == 0 {
		return []section{{body: text}}
	}
	return sections
}

func isSectionHeader(line string) bool {
	if line == "" {
		return false
	}
	for _, pattern := range sectionPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// chunkWithOverlap splits long text into overlapping chunks by sentences.
func (c *Chunker) chunkWithOverlap(text string) []string {
	sentences := splitIntoSentences(text)
	var chunks []string
	var current []string
	currentTokens := 0

	for _, sentence := range sentences {
		sentTokens := estimateTokens(sentence)

		if currentTokens+sentTokens > c.config.ChunkSize && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			// Carry trailing sentences into the next chunk until the
			// overlap budget is covered.
			overlapTokens := 0
			overlapStart := len(current)
			for i := len(current) - 1; i >= 0; i-- {
				overlapTokens += estimateTokens(current[i])
				if overlapTokens >= c.config.ChunkOverlap {
					overlapStart = i
					break
				}
			}
			current = current[overlapStart:]
			currentTokens = 0
			for _, s := range current {
				currentTokens += estimateTokens(s)
			}
		}

		current = append(current, sentence)
		currentTokens += sentTokens
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func containsTable(text string) bool {
	if strings.Count(text, "|") > 4 {
		return true
	}
	return strings.Contains(strings.ToLower(text), "table")
}

func referencesFigure(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range figureMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// estimateTokens approximates token count at ~4 chars per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
