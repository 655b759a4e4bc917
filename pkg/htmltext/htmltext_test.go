package htmltext

import (
	"strings"
	"testing"
)

const page = `<html><head><title> Go 1.24 </title><script>var x = 1;</script></head>
<body>
<nav><a href="/">Home</a></nav>
<h1>Release notes</h1>
<p>Go 1.24   adds generic type aliases.</p>
<p>Go 1.24   adds generic type aliases.</p>
<ul><li>Swiss tables</li></ul>
<table><tr><th>a</th><th>b</th></tr><tr><td>1</td><td>2</td></tr></table>
<footer>All rights reserved</footer>
</body></html>`

func TestExtract(t *testing.T) {
	p, err := Extract(strings.NewReader(page))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.Title != "Go 1.24" {
		t.Errorf("Title = %q", p.Title)
	}

	want := "# Release notes\n\nGo 1.24 adds generic type aliases.\n\n- Swiss tables\n\n| a | b |\n| 1 | 2 |"
	if p.Text != want {
		t.Errorf("Text = %q, want %q", p.Text, want)
	}
	if strings.Contains(p.Text, "var x") || strings.Contains(p.Text, "Home") {
		t.Errorf("Expected scripts and navigation to be dropped, got %q", p.Text)
	}
}

func TestExtractFallsBackToBody(t *testing.T) {
	p, err := Extract(strings.NewReader(`<html><body><div>just   text</div></body></html>`))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.Text != "just text" {
		t.Errorf("Text = %q", p.Text)
	}
}

func TestRemoveWebNoise(t *testing.T) {
	got := RemoveWebNoise("keep me\nAccept cookies to continue\nand me")
	if got != "keep me\nand me" {
		t.Errorf("RemoveWebNoise = %q", got)
	}
}
