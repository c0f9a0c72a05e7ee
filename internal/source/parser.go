package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Error variables for parser errors
var (
	// ErrJSONPathNotFound is returned when the JSON path does not exist in the document
	ErrJSONPathNotFound = errors.New("JSON path not found in response")
	// ErrRegexNoMatch is returned when the regex pattern does not match the content
	ErrRegexNoMatch = errors.New("regex pattern did not match")
	// ErrNoVersionFound is returned when no version could be extracted from upstream
	ErrNoVersionFound = errors.New("could not extract version from upstream")
	// ErrInvalidJSONPath is returned when the JSON path syntax is invalid
	ErrInvalidJSONPath = errors.New("invalid JSON path syntax")
	// ErrInvalidRegexPattern is returned when the regex pattern is invalid
	ErrInvalidRegexPattern = errors.New("invalid regex pattern")
	// ErrNoCaptureGroup is returned when the regex pattern has no capture group
	ErrNoCaptureGroup = errors.New("regex pattern must contain at least one capture group")
	// ErrInvalidParserType is returned for a parser other than json, regex or html
	ErrInvalidParserType = errors.New("invalid parser type")
)

// Parser defines the interface for version extraction from content.
type Parser interface {
	// Parse extracts a version string from the given content.
	Parse(content []byte) (string, error)
}

// ParserSpec describes how to build a Parser.
type ParserSpec struct {
	Type     string // json, regex or html
	Path     string
	Pattern  string
	Selector string
	XPath    string
}

// JSONParser extracts version using a JSON path.
// The path supports dot notation and array indexing (e.g., "notes[0].version", "[0].name").
type JSONParser struct {
	Path string
}

// Parse extracts a version string from JSON content using the configured path.
func (p *JSONParser) Parse(content []byte) (string, error) {
	if p.Path == "" {
		return "", ErrInvalidJSONPath
	}

	var data interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}

	result, err := navigateJSONPath(data, p.Path)
	if err != nil {
		return "", err
	}

	version, ok := toString(result)
	if !ok {
		return "", fmt.Errorf("%w: value at %q is not a scalar", ErrJSONPathNotFound, p.Path)
	}
	if version == "" {
		return "", fmt.Errorf("%w: value at %q is empty", ErrJSONPathNotFound, p.Path)
	}

	return version, nil
}

// navigateJSONPath navigates through JSON data following the given path.
func navigateJSONPath(data interface{}, path string) (interface{}, error) {
	segments, err := parseJSONPath(path)
	if err != nil {
		return nil, err
	}

	current := data
	for _, seg := range segments {
		switch seg.segType {
		case segmentField:
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected object at %q", ErrJSONPathNotFound, seg.value)
			}
			val, exists := obj[seg.value]
			if !exists {
				return nil, fmt.Errorf("%w: field %q not found", ErrJSONPathNotFound, seg.value)
			}
			current = val

		case segmentIndex:
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected array at index %d", ErrJSONPathNotFound, seg.index)
			}
			if seg.index >= len(arr) {
				return nil, fmt.Errorf("%w: array index %d out of bounds (length %d)", ErrJSONPathNotFound, seg.index, len(arr))
			}
			current = arr[seg.index]
		}
	}

	return current, nil
}

type segmentType int

const (
	segmentField segmentType = iota
	segmentIndex
)

type pathSegment struct {
	segType segmentType
	value   string // field name for segmentField
	index   int    // array index for segmentIndex
}

// parseJSONPath parses a JSON path string into segments.
// Examples: "version", "info.version", "[0].name", "results[0].Version"
func parseJSONPath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	remaining := path

	for remaining != "" {
		remaining = strings.TrimPrefix(remaining, ".")
		if remaining == "" {
			break
		}

		fieldEnd := len(remaining)
		for i, c := range remaining {
			if c == '.' || c == '[' {
				fieldEnd = i
				break
			}
		}

		if fieldEnd > 0 {
			segments = append(segments, pathSegment{segType: segmentField, value: remaining[:fieldEnd]})
			remaining = remaining[fieldEnd:]
		}

		for strings.HasPrefix(remaining, "[") {
			closeBracket := strings.Index(remaining, "]")
			if closeBracket == -1 {
				return nil, fmt.Errorf("%w: unclosed bracket", ErrInvalidJSONPath)
			}

			indexStr := remaining[1:closeBracket]
			index, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid array index %q", ErrInvalidJSONPath, indexStr)
			}
			if index < 0 {
				return nil, fmt.Errorf("%w: negative array index", ErrInvalidJSONPath)
			}

			segments = append(segments, pathSegment{segType: segmentIndex, index: index})
			remaining = remaining[closeBracket+1:]
		}

		if remaining != "" && remaining[0] != '.' {
			return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidJSONPath, remaining)
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidJSONPath)
	}

	return segments, nil
}

// toString converts a JSON scalar to a string
func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// RegexParser extracts version using a regular expression with capture group.
// The first capture group in the pattern is used as the version.
type RegexParser struct {
	Pattern  string
	compiled *regexp.Regexp
}

// Parse extracts a version string from content using the configured regex pattern.
func (p *RegexParser) Parse(content []byte) (string, error) {
	if p.compiled == nil {
		re, err := compileCapturing(p.Pattern)
		if err != nil {
			return "", err
		}
		p.compiled = re
	}

	matches := p.compiled.FindSubmatch(content)
	if len(matches) < 2 {
		return "", ErrRegexNoMatch
	}

	version := strings.TrimSpace(string(matches[1]))
	if version == "" {
		return "", fmt.Errorf("%w: capture group matched empty string", ErrRegexNoMatch)
	}

	return version, nil
}

// compileCapturing compiles pattern and checks it has a capture group.
func compileCapturing(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, ErrInvalidRegexPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
	}
	if re.NumSubexp() < 1 {
		return nil, ErrNoCaptureGroup
	}
	return re, nil
}

// NewParser creates a parser from a spec.
func NewParser(spec ParserSpec) (Parser, error) {
	switch spec.Type {
	case "json":
		if _, err := parseJSONPath(spec.Path); err != nil {
			return nil, err
		}
		return &JSONParser{Path: spec.Path}, nil
	case "regex":
		re, err := compileCapturing(spec.Pattern)
		if err != nil {
			return nil, err
		}
		return &RegexParser{Pattern: spec.Pattern, compiled: re}, nil
	case "html":
		return NewHTMLParser(spec.Selector, spec.XPath, spec.Pattern)
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidParserType, spec.Type)
	}
}

// ParseVersion extracts a version with the primary spec and, when it fails,
// with the fallback spec if one is given.
func ParseVersion(content []byte, primary ParserSpec, fallback *ParserSpec) (string, error) {
	parser, err := NewParser(primary)
	if err != nil {
		return "", fmt.Errorf("failed to create primary parser: %w", err)
	}

	version, err := parser.Parse(content)
	if err == nil {
		return version, nil
	}
	primaryErr := err

	if fallback != nil && fallback.Type != "" {
		fallbackParser, err := NewParser(*fallback)
		if err != nil {
			return "", fmt.Errorf("primary parser failed (%w), fallback parser creation failed: %v", primaryErr, err)
		}

		version, err = fallbackParser.Parse(content)
		if err == nil {
			return version, nil
		}
	}

	return "", fmt.Errorf("%w: %w", ErrNoVersionFound, primaryErr)
}
