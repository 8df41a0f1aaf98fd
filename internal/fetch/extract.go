package fetch

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// chromeTags hold page furniture the model has no use for; their
// entire subtree is dropped.
var chromeTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
}

// blockTags get a line break of their own in the extracted text.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Main: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Blockquote: true,
	atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Table: true,
	atom.Tr: true, atom.Dl: true, atom.Figure: true, atom.Hr: true,
}

// extract streams HTML through a tokenizer and returns the document
// title plus the visible text, one line per block element. Tokenizing
// instead of building a DOM keeps memory flat on large pages and
// shrugs off malformed markup: a parse error simply ends extraction
// with whatever text came before it.
func extract(r io.Reader) (title, text string) {
	z := html.NewTokenizer(r)

	var (
		b       strings.Builder
		chrome  int // nesting depth inside chromeTags subtrees
		inTitle bool
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return title, tidy(b.String())

		case html.StartTagToken:
			name, _ := z.TagName()
			switch a := atom.Lookup(name); {
			case chromeTags[a]:
				chrome++
			case a == atom.Title:
				inTitle = true
			case blockTags[a]:
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			switch a := atom.Lookup(name); {
			case chromeTags[a]:
				if chrome > 0 {
					chrome--
				}
			case a == atom.Title:
				inTitle = false
			case blockTags[a] || a == atom.Br || a == atom.Li:
				b.WriteByte('\n')
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Br {
				b.WriteByte('\n')
			}

		case html.TextToken:
			t := strings.TrimSpace(string(z.Text()))
			if t == "" {
				continue
			}
			if inTitle {
				if title == "" {
					title = t
				}
				continue
			}
			if chrome > 0 {
				continue
			}
			b.WriteString(t)
			b.WriteByte(' ')
		}
	}
}

// tidy collapses intra-line whitespace and runs of blank lines.
func tidy(s string) string {
	var lines []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(lines) > 0 {
			lines = append(lines, "")
		}
		blank = false
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
