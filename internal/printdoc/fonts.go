package printdoc

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

const (
	bodyFont = "Go"
	monoFont = "GoMono"
)

func registerFonts(pdf *fpdf.Fpdf) {
	for style, ttf := range map[string][]byte{"": goregular.TTF, "B": gobold.TTF, "I": goitalic.TTF, "BI": gobolditalic.TTF} {
		pdf.AddUTF8FontFromBytes(bodyFont, style, ttf)
	}
	for style, ttf := range map[string][]byte{"": gomono.TTF, "B": gomonobold.TTF, "I": gomonoitalic.TTF, "BI": gomonobolditalic.TTF} {
		pdf.AddUTF8FontFromBytes(monoFont, style, ttf)
	}
}

// glyphs is the character map shared by every face of the family.
var glyphs = sync.OnceValues(func() (*sfnt.Font, error) {
	return sfnt.Parse(goregular.TTF)
})

// spelledOut covers symbols common on these documents that the fonts lack.
var spelledOut = map[rune]string{
	'₹': "Rs.",
}

// printable rewrites s so every rune has a glyph: known symbols are spelled
// out, anything else the fonts cannot draw becomes '?'.
func printable(s string) string {
	font, err := glyphs()
	if err != nil {
		return s
	}
	var (
		buf sfnt.Buffer
		b   strings.Builder
	)
	b.Grow(len(s))
	for _, r := range s {
		if text, ok := spelledOut[r]; ok {
			b.WriteString(text)
			continue
		}
		switch {
		case r == '\n':
			b.WriteRune(r)
			continue
		case r == '\t':
			b.WriteByte(' ')
			continue
		case unicode.IsControl(r):
			continue
		case r == utf8.RuneError, r > 0xFFFF:
			b.WriteByte('?')
			continue
		}
		if idx, err := font.GlyphIndex(&buf, r); err != nil || idx == 0 {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
