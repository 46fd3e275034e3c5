package cracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodePageText(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "simple Tj",
			content: `BT /F1 12 Tf (Net interest income) Tj ET`,
			want:    "Net interest income",
		},
		{
			name:    "TJ array with kerning numbers",
			content: `BT [(Tot) -12 (al) 4 ( assets)] TJ ET`,
			want:    "Total assets",
		},
		{
			name:    "positioning starts a new line",
			content: `BT (Revenue) Tj 0 -14 Td (Expenses) Tj ET`,
			want:    "Revenue\nExpenses",
		},
		{
			name:    "quote operator shows text",
			content: `BT (First) ' (Second) ' ET`,
			want:    "First Second",
		},
		{
			name:    "escapes in literal strings",
			content: `BT (Line one\nLine two \(net\) 100\\200) Tj ET`,
			want:    "Line one\nLine two (net) 100\\200",
		},
		{
			name:    "octal escape",
			content: `BT (\101\102\103) Tj ET`,
			want:    "ABC",
		},
		{
			name:    "nested parens",
			content: `BT (outer (inner) after) Tj ET`,
			want:    "outer (inner) after",
		},
		{
			name:    "hex strings skipped",
			content: `BT <48656C6C6F> Tj (visible) Tj ET`,
			want:    "visible",
		},
		{
			name:    "strings before non-show operators dropped",
			content: `BT (ignored) Tf (shown) Tj ET`,
			want:    "shown",
		},
		{
			name:    "comments ignored",
			content: "BT % a comment (not text)\n(real) Tj ET",
			want:    "real",
		},
		{
			name:    "inline dictionary stepped over",
			content: `BT << /Type /Page >> (after dict) Tj ET`,
			want:    "after dict",
		},
		{
			name:    "empty stream",
			content: ``,
			want:    "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decodePageText([]byte(tc.content)))
		})
	}
}

func TestParseLiteralStringUnterminated(t *testing.T) {
	s, next := parseLiteralString([]byte("(never closed"), 0)
	assert.Equal(t, "never closed", s)
	assert.Equal(t, len("(never closed"), next)
}

func TestCollapseWhitespace(t *testing.T) {
	got := collapseWhitespace("a   b \n\n\n  c  d \n")
	assert.Equal(t, "a b\nc d", got)
}

func TestFindCaption(t *testing.T) {
	t.Run("finds figure line", func(t *testing.T) {
		text := "Quarterly results were strong.\nFigure 4: Loan growth by region\nMore prose."
		assert.Equal(t, "Figure 4: Loan growth by region", findCaption(text))
	})

	t.Run("case insensitive keywords", func(t *testing.T) {
		assert.Equal(t, "CHART 2 - Deposits", findCaption("CHART 2 - Deposits"))
	})

	t.Run("no caption", func(t *testing.T) {
		assert.Equal(t, "", findCaption("Plain prose about the quarter."))
	})

	t.Run("long captions truncated", func(t *testing.T) {
		long := "Figure 1: " + string(make([]byte, 300))
		got := findCaption(long)
		assert.LessOrEqual(t, len(got), 200)
	})
}
