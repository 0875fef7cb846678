// Package extractor implements the deterministic Content Extractor: a pure
// HTML -> {metadata, markdown} transform. Grounded on the original source's
// StealthScraper._parse_content (BeautifulSoup + html2text), translated
// to goquery's jQuery-style DOM traversal and a small hand-rolled
// node-to-Markdown walker — no Markdown-conversion library appears in the
// retrieved corpus, so that half of the transform is written directly
// against goquery's node tree rather than reaching for an unavailable dep.
package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/shadowfetch/shadowfetch/internal/models"
)

// stripTags are removed, subtree and all, before Markdown conversion.
var stripTags = []string{"script", "style", "meta", "noscript", "svg"}

// Extract is the pure html -> Artifact transform described in SPEC_FULL
// §4.5. It never touches the network and is deterministic: the same input
// always produces the same output.
func Extract(htmlContent string) (*models.Artifact, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	meta := extractMetadata(doc)

	for _, tag := range stripTags {
		doc.Find(tag).Remove()
	}

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		for _, n := range sel.Nodes {
			renderMarkdown(n, &sb)
		}
	})
	markdown := strings.TrimSpace(sb.String())

	return &models.Artifact{
		Metadata: meta,
		Markdown: markdown,
	}, nil
}

func extractMetadata(doc *goquery.Document) models.Metadata {
	meta := models.Metadata{Images: []string{}}

	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())

	if s := doc.Find(`meta[name="author"]`).First(); s.Length() > 0 {
		meta.Author, _ = s.Attr("content")
	} else if s := doc.Find(`meta[property="article:author"]`).First(); s.Length() > 0 {
		meta.Author, _ = s.Attr("content")
	}
	meta.Author = strings.TrimSpace(meta.Author)

	if s := doc.Find(`meta[name="publish-date"]`).First(); s.Length() > 0 {
		meta.PublishDate, _ = s.Attr("content")
	} else if s := doc.Find(`meta[property="article:published_time"]`).First(); s.Length() > 0 {
		meta.PublishDate, _ = s.Attr("content")
	} else if s := doc.Find(`meta[name="date"]`).First(); s.Length() > 0 {
		meta.PublishDate, _ = s.Attr("content")
	}
	meta.PublishDate = strings.TrimSpace(meta.PublishDate)

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && strings.HasPrefix(src, "http") {
			meta.Images = append(meta.Images, src)
		}
	})

	return meta
}

// renderMarkdown walks the (already script/style/meta/noscript/svg-stripped)
// DOM, emitting a no-line-wrap Markdown rendering that preserves links and
// images, matching html2text's options used by the original source
// (ignore_links=False, ignore_images=False, body_width=0).
func renderMarkdown(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		text := n.Data
		if strings.TrimSpace(text) != "" {
			sb.WriteString(text)
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "meta", "noscript", "svg":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "img":
			alt := attr(n, "alt")
			src := attr(n, "src")
			sb.WriteString("![" + alt + "](" + src + ")")
			return
		case "a":
			href := attr(n, "href")
			var inner strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				renderMarkdown(c, &inner)
			}
			if href != "" {
				sb.WriteString("[" + inner.String() + "](" + href + ")")
			} else {
				sb.WriteString(inner.String())
			}
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			sb.WriteString("\n" + strings.Repeat("#", level) + " ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				renderMarkdown(c, sb)
			}
			sb.WriteString("\n")
			return
		case "p", "div", "li", "tr":
			sb.WriteString("\n")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				renderMarkdown(c, sb)
			}
			sb.WriteString("\n")
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderMarkdown(c, sb)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
