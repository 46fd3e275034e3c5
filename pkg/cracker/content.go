package cracker

import (
	"strconv"
	"strings"
)

// decodePageText walks a decoded PDF content stream and collects the
// operands of the text show operators (Tj, TJ, ' and "). Literal strings
// with escape sequences are handled; hex strings are skipped since they
// usually carry multi-byte CID encodings this scanner cannot map back to
// Unicode. Line structure is approximated from the positioning operators.
func decodePageText(content []byte) string {
	var out strings.Builder
	var pending []string

	flush := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		if len(pending) > 0 {
			out.WriteByte(' ')
		}
		pending = pending[:0]
	}

	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '(':
			s, next := parseLiteralString(content, i)
			pending = append(pending, s)
			i = next
		case c == '<':
			i = skipAngle(content, i)
		case c == '>':
			i++
		case c == '[' || c == ']' || c == '{' || c == '}':
			i++
		case c == '/':
			_, i = readToken(content, i+1)
		case c == '%':
			i = skipComment(content, i)
		case isWhitespace(c):
			i++
		default:
			tok, next := readToken(content, i)
			switch tok {
			case "Tj", "TJ", "'", "\"":
				flush()
			case "Td", "TD", "T*", "ET":
				out.WriteByte('\n')
			default:
				// Any other operator means the pending strings were not
				// operands of a show operator; drop them. Numbers are
				// operands still in flight.
				if !isNumber(tok) {
					pending = pending[:0]
				}
			}
			i = next
		}
	}
	flush()

	return collapseWhitespace(out.String())
}

// parseLiteralString reads a PDF literal string starting at the opening
// paren and returns the decoded text and the index past the closing paren.
func parseLiteralString(content []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start

	for i < len(content) {
		c := content[i]
		switch c {
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
			i++
		case '\\':
			if i+1 >= len(content) {
				return sb.String(), i + 1
			}
			esc := content[i+1]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
				i += 2
			case 'r':
				sb.WriteByte('\r')
				i += 2
			case 't':
				sb.WriteByte('\t')
				i += 2
			case 'b', 'f':
				i += 2
			case '(', ')', '\\':
				sb.WriteByte(esc)
				i += 2
			case '\n':
				i += 2 // line continuation
			case '\r':
				i += 2
				if i < len(content) && content[i] == '\n' {
					i++
				}
			default:
				if esc >= '0' && esc <= '7' {
					code := 0
					j := i + 1
					for j < len(content) && j < i+4 && content[j] >= '0' && content[j] <= '7' {
						code = code*8 + int(content[j]-'0')
						j++
					}
					if code < 256 {
						sb.WriteByte(byte(code))
					}
					i = j
				} else {
					sb.WriteByte(esc)
					i += 2
				}
			}
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), i
}

// skipAngle skips a hex string <...> or steps over a dictionary opener <<.
func skipAngle(content []byte, start int) int {
	if start+1 < len(content) && content[start+1] == '<' {
		return start + 2
	}
	i := start + 1
	for i < len(content) && content[i] != '>' {
		i++
	}
	if i < len(content) {
		i++
	}
	return i
}

func skipComment(content []byte, start int) int {
	i := start
	for i < len(content) && content[i] != '\n' && content[i] != '\r' {
		i++
	}
	return i
}

func readToken(content []byte, start int) (string, int) {
	i := start
	for i < len(content) && !isWhitespace(content[i]) && !isDelimiter(content[i]) {
		i++
	}
	if i == start {
		// Lone delimiter byte; consume it so the scan always advances.
		return string(content[start]), start + 1
	}
	return string(content[start:i]), i
}

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// collapseWhitespace squeezes runs of spaces within lines and drops blank
// lines, preserving the rough line structure of the page.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, "\n")
}
