package extractor

import (
	"strings"
	"testing"
)

func TestExtractBasicPage(t *testing.T) {
	htmlContent := `
<html>
<head>
	<title>Example Article</title>
	<meta name="author" content="Jane Doe">
	<meta property="article:published_time" content="2026-01-02">
	<script>var x = 1;</script>
	<style>.foo{color:red}</style>
</head>
<body>
	<h1>Example Article</h1>
	<p>Hello <a href="https://example.com/about">world</a>.</p>
	<img src="https://example.com/photo.jpg" alt="a photo">
	<noscript>disabled</noscript>
</body>
</html>`

	artifact, err := Extract(htmlContent)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if artifact.Metadata.Title != "Example Article" {
		t.Errorf("Title = %q, want %q", artifact.Metadata.Title, "Example Article")
	}
	if artifact.Metadata.Author != "Jane Doe" {
		t.Errorf("Author = %q, want %q", artifact.Metadata.Author, "Jane Doe")
	}
	if artifact.Metadata.PublishDate != "2026-01-02" {
		t.Errorf("PublishDate = %q, want %q", artifact.Metadata.PublishDate, "2026-01-02")
	}
	if len(artifact.Metadata.Images) != 1 || artifact.Metadata.Images[0] != "https://example.com/photo.jpg" {
		t.Errorf("Images = %v, want one photo.jpg entry", artifact.Metadata.Images)
	}

	if contains := "[world](https://example.com/about)"; !strings.Contains(artifact.Markdown, contains) {
		t.Errorf("Markdown = %q, want it to contain %q", artifact.Markdown, contains)
	}
	if strings.Contains(artifact.Markdown, "var x = 1") {
		t.Error("Markdown should not contain script contents")
	}
	if strings.Contains(artifact.Markdown, "color:red") {
		t.Error("Markdown should not contain style contents")
	}
	if strings.Contains(artifact.Markdown, "disabled") {
		t.Error("Markdown should not contain noscript contents")
	}
}

func TestExtractMissingMetadataYieldsEmptyStrings(t *testing.T) {
	artifact, err := Extract(`<html><head></head><body><p>bare</p></body></html>`)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if artifact.Metadata.Title != "" {
		t.Errorf("Title = %q, want empty", artifact.Metadata.Title)
	}
	if artifact.Metadata.Author != "" {
		t.Errorf("Author = %q, want empty", artifact.Metadata.Author)
	}
	if artifact.Metadata.Images == nil {
		t.Error("Images should be a non-nil empty slice, not nil")
	}
}

func TestExtractHeadingsBecomeMarkdownHeadings(t *testing.T) {
	artifact, err := Extract(`<html><body><h2>Section</h2><p>body text</p></body></html>`)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(artifact.Markdown, "## Section") {
		t.Errorf("Markdown = %q, want it to contain %q", artifact.Markdown, "## Section")
	}
}

func TestExtractRelativeImageSrcIgnored(t *testing.T) {
	artifact, err := Extract(`<html><body><img src="/local.png"><img src="https://cdn.example.com/a.png"></body></html>`)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(artifact.Metadata.Images) != 1 {
		t.Fatalf("Images = %v, want exactly the one absolute URL", artifact.Metadata.Images)
	}
	if artifact.Metadata.Images[0] != "https://cdn.example.com/a.png" {
		t.Errorf("Images[0] = %q, want the absolute URL", artifact.Metadata.Images[0])
	}
}
