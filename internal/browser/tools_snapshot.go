package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-rod/rod"
	readability "github.com/go-shiori/go-readability"

	. "github.com/roelfdiedericks/browserd/internal/logging"
)

const (
	defaultSnapshotLength = 15000

	// interactiveSelector matches the elements worth assigning refs to.
	interactiveSelector = `a[href], button, input, select, textarea, [role="button"], [role="link"], [role="textbox"], [role="checkbox"], [onclick]`

	// maxIndexedElements bounds the ref registry per snapshot.
	maxIndexedElements = 200
)

// opSnapshot captures the page in one of three shapes: "text" (readable
// article extraction), "markdown" (rendered HTML converted to markdown)
// or "aria" (an indexed outline of interactive elements with refs that
// later interaction operations can address).
func (p *Plane) opSnapshot(ctx context.Context, inv *Invocation) (Result, error) {
	format := inv.argString("format")
	if format == "" {
		format = "text"
	}
	maxLength := inv.argInt("maxLength", defaultSnapshotLength)
	if maxLength < 1 {
		return nil, &ValidationError{Field: "maxLength", Reason: "must be positive"}
	}

	tab, page, err := p.pageFor(ctx, inv)
	if err != nil {
		return nil, err
	}

	info, err := page.Info()
	if err != nil {
		return nil, &ProtocolError{Op: "snapshot", Err: err}
	}

	var content string
	switch format {
	case "text":
		content, err = snapshotText(page, info.URL, info.Title)
	case "markdown", "ai":
		content, err = snapshotMarkdown(page)
	case "aria":
		content, err = p.snapshotAria(page, tab.ID)
	default:
		return nil, &ValidationError{Field: "format", Reason: "must be one of text, markdown, ai, aria"}
	}
	if err != nil {
		return nil, err
	}

	truncated := false
	if len(content) > maxLength {
		content = content[:maxLength] + "\n\n[Content truncated...]"
		truncated = true
	}

	L_debug("browser: snapshot complete", "format", format, "length", len(content))
	return Result{
		"ok":        true,
		"targetId":  tab.ID,
		"url":       info.URL,
		"title":     info.Title,
		"format":    format,
		"content":   content,
		"truncated": truncated,
	}, nil
}

// snapshotText extracts readable article text from the rendered page,
// falling back to the raw body text when extraction fails.
func snapshotText(page *rod.Page, pageURL, title string) (string, error) {
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}

	parsedURL, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		L_warn("browser: readability failed, using raw text", "error", err)
		body, err := page.Element("body")
		if err != nil {
			return "", fmt.Errorf("failed to get page body: %w", err)
		}
		text, err := body.Text()
		if err != nil {
			return "", fmt.Errorf("failed to get page text: %w", err)
		}
		return fmt.Sprintf("Title: %s\nURL: %s\n\n---\n\n%s", title, pageURL, text), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Title: %s\n", article.Title))
	if article.Byline != "" {
		result.WriteString(fmt.Sprintf("Author: %s\n", article.Byline))
	}
	result.WriteString(fmt.Sprintf("URL: %s\n\n---\n\n", pageURL))
	result.WriteString(article.TextContent)
	return result.String(), nil
}

// snapshotMarkdown converts the rendered HTML to markdown, keeping
// structure that plain text extraction throws away.
func snapshotMarkdown(page *rod.Page) (string, error) {
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to get page HTML: %w", err)
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	return md, nil
}

// snapshotAria indexes the page's interactive elements, assigns each a
// ref and rebuilds the tab's ref registry. Refs stay valid until the
// next snapshot of the same tab.
func (p *Plane) snapshotAria(page *rod.Page, tabID string) (string, error) {
	elements, err := page.Elements(interactiveSelector)
	if err != nil {
		return "", &ProtocolError{Op: "snapshot", Err: err}
	}

	refs := make(map[string]*rod.Element)
	var out strings.Builder
	n := 0
	for _, el := range elements {
		if n >= maxIndexedElements {
			out.WriteString(fmt.Sprintf("[... %d more elements not indexed]\n", len(elements)-n))
			break
		}
		visible, err := el.Visible()
		if err != nil || !visible {
			continue
		}
		n++
		ref := fmt.Sprintf("e%d", n)
		refs[ref] = el
		out.WriteString(fmt.Sprintf("[%s] %s\n", ref, elementLabel(el)))
	}

	p.setElements(tabID, refs)
	L_debug("browser: indexed elements", "tab", tabID, "count", n)

	if n == 0 {
		return "(no interactive elements found)", nil
	}
	return out.String(), nil
}

// elementLabel summarizes one element for the aria outline: tag, best
// available accessible text and destination where relevant.
func elementLabel(el *rod.Element) string {
	result, err := el.Eval(`() => {
		const tag = this.tagName.toLowerCase();
		const text = (this.innerText || this.value || this.getAttribute('aria-label') ||
			this.getAttribute('placeholder') || this.getAttribute('alt') || '').trim().slice(0, 80);
		const href = this.getAttribute('href') || '';
		const type = this.getAttribute('type') || '';
		return {tag, text, href, type};
	}`)
	if err != nil {
		return "(unreadable element)"
	}

	tag := result.Value.Get("tag").Str()
	text := result.Value.Get("text").Str()
	href := result.Value.Get("href").Str()
	typ := result.Value.Get("type").Str()

	label := tag
	if typ != "" {
		label += ":" + typ
	}
	if text != "" {
		label += fmt.Sprintf(" %q", text)
	}
	if href != "" && tag == "a" {
		label += " -> " + href
	}
	return label
}
