package source

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
)

var (
	// ErrInvalidXPath is returned when the XPath expression syntax is invalid
	ErrInvalidXPath = errors.New("invalid XPath expression")
	// ErrNoElementFound is returned when no element matches the selector/xpath
	ErrNoElementFound = errors.New("no element found matching selector")
	// ErrNoSelectorOrXPath is returned when neither selector nor xpath is provided
	ErrNoSelectorOrXPath = errors.New("either selector or xpath must be provided")
)

// HTMLParser extracts a version from a web page with a CSS selector
// (goquery) or an XPath expression (htmlquery). The text of the first
// matching element is optionally narrowed with Regex.
type HTMLParser struct {
	Selector string
	XPath    string
	Regex    string
	compiled *regexp.Regexp
}

// NewHTMLParser creates a new HTMLParser. At least one of selector or xpath
// must be provided; the regex is optional.
func NewHTMLParser(selector, xpath, regex string) (*HTMLParser, error) {
	if selector == "" && xpath == "" {
		return nil, ErrNoSelectorOrXPath
	}

	p := &HTMLParser{Selector: selector, XPath: xpath, Regex: regex}
	if regex != "" {
		re, err := regexp.Compile(regex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
		}
		p.compiled = re
	}
	return p, nil
}

// Parse extracts a version string from HTML content.
func (p *HTMLParser) Parse(content []byte) (string, error) {
	var text string
	var err error

	switch {
	case p.Selector != "":
		text, err = p.selectCSS(content)
	case p.XPath != "":
		text, err = p.selectXPath(content)
	default:
		return "", ErrNoSelectorOrXPath
	}
	if err != nil {
		return "", err
	}

	if p.Regex != "" {
		if text, err = p.narrow(text); err != nil {
			return "", err
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoVersionFound
	}
	return text, nil
}

func (p *HTMLParser) selectCSS(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	selection := doc.Find(p.Selector)
	if selection.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, p.Selector)
	}

	// Prefer the link target when the element is an anchor with no text.
	first := selection.First()
	text := first.Text()
	if strings.TrimSpace(text) == "" {
		if href, ok := first.Attr("href"); ok {
			text = href
		}
	}
	return text, nil
}

func (p *HTMLParser) selectXPath(content []byte) (string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	nodes, err := htmlquery.QueryAll(doc, p.XPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidXPath, err)
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoElementFound, p.XPath)
	}

	return htmlquery.InnerText(nodes[0]), nil
}

// narrow returns the first capture group of Regex in text, or the whole
// match when the pattern has no group.
func (p *HTMLParser) narrow(text string) (string, error) {
	if p.compiled == nil {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
		}
		p.compiled = re
	}

	matches := p.compiled.FindStringSubmatch(text)
	if matches == nil {
		return "", fmt.Errorf("%w: pattern %q did not match text", ErrRegexNoMatch, p.Regex)
	}
	if len(matches) > 1 && matches[1] != "" {
		return matches[1], nil
	}
	if matches[0] != "" {
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: pattern matched empty string", ErrRegexNoMatch)
}
