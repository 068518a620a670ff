package crawler

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable part of a fetched document.
type Page struct {
	Title  string
	Blocks []string
}

// Text joins the blocks with blank lines.
func (p *Page) Text() string {
	return strings.Join(p.Blocks, "\n\n")
}

var skippedElements = map[atom.Atom]bool{
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Form:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Template: true,
	atom.Button:   true,
	atom.Select:   true,
	atom.Img:      true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Tr: true, atom.Td: true, atom.Th: true,
	atom.Br: true, atom.Hr: true, atom.Figcaption: true, atom.Aside: true, atom.Body: true,
}

// ExtractHTML parses an HTML document into a title and text blocks. Page
// chrome (navigation, headers, footers, forms) and non-text elements are
// dropped. Whitespace inside a block is collapsed.
func ExtractHTML(r io.Reader) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{}
	var cur strings.Builder
	flush := func() {
		text := strings.Join(strings.Fields(cur.String()), " ")
		if text != "" {
			page.Blocks = append(page.Blocks, text)
		}
		cur.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if n.DataAtom == atom.Head || n.DataAtom == atom.Title || skippedElements[n.DataAtom] {
				return
			}
			if hidden(n) {
				return
			}
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.CommentNode:
			return
		}

		block := n.Type == html.ElementNode && blockElements[n.DataAtom]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(doc)
	flush()

	page.Title = findTitle(doc)
	return page, nil
}

// PlainBlocks splits plain text into paragraphs.
func PlainBlocks(text string) []string {
	var blocks []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p := strings.Join(strings.Fields(para), " "); p != "" {
			blocks = append(blocks, p)
		}
	}
	return blocks
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch a.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if a.Val == "true" {
				return true
			}
		case "style":
			s := strings.ReplaceAll(strings.ToLower(a.Val), " ", "")
			if strings.Contains(s, "display:none") {
				return true
			}
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// findTitle returns the <title> text, or the first <h1> when the title is
// missing or blank.
func findTitle(doc *html.Node) string {
	if t := firstElementText(doc, atom.Title); t != "" {
		return t
	}
	return firstElementText(doc, atom.H1)
}

func firstElementText(doc *html.Node, a atom.Atom) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			title = textOf(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
