package templates

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	// SummaryMarkdownFilename is the rendered release summary
	SummaryMarkdownFilename = "RELEASE.md"
	// SummaryHTMLFilename is the release summary converted to HTML
	SummaryHTMLFilename = "RELEASE.html"
)

var (
	// ErrTemplateExecute is returned if there is an error executing template
	ErrTemplateExecute = errors.New("error executing template")
)

// TemplateFiles are all of the files from the root templates directory
type TemplateFiles struct {
	// ReleaseSummary is a markdown template rendered with a Summary
	ReleaseSummary string
}

// Artifact is a single file of a target release directory
type Artifact struct {
	Name   string
	Size   int64
	SHA256 string
}

// TargetSummary lists the artifacts built for one target
type TargetSummary struct {
	Name     string
	Friendly string
	Rooted   bool
	// Artifacts are sorted by name
	Artifacts []Artifact
}

// Summary contains all of the values the release summary is rendered with
type Summary struct {
	RunID       string
	Version     string
	OSName      string
	Tag         string
	BuildID     string
	OSVersion   string
	BuildNumber string
	GeneratedAt time.Time
	Targets     []TargetSummary
	// Failed are targets that did not produce a release
	Failed []string
}

// Templates renders release summaries
type Templates struct {
	templateFiles *TemplateFiles
	markdown      goldmark.Markdown
}

// New returns an initialized Templates
func New(templateFiles *TemplateFiles) *Templates {
	return &Templates{
		templateFiles: templateFiles,
		markdown:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// RenderSummary renders the release summary as markdown and as HTML
func (t *Templates) RenderSummary(summary *Summary) ([]byte, []byte, error) {
	markdown, err := renderTemplate(t.templateFiles.ReleaseSummary, summary)
	if err != nil {
		return nil, nil, err
	}

	var html bytes.Buffer
	if err := t.markdown.Convert(markdown, &html); err != nil {
		return nil, nil, fmt.Errorf("failed to convert release summary to html: %w", err)
	}
	return markdown, html.Bytes(), nil
}

// WriteSummary renders the release summary into dir
func (t *Templates) WriteSummary(dir string, summary *Summary) error {
	markdown, html, err := t.RenderSummary(summary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryMarkdownFilename), markdown, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SummaryHTMLFilename), html, 0644)
}

func renderTemplate(templateStr string, params interface{}) ([]byte, error) {
	temp, err := template.New("templates").Delims("<%", "%>").Funcs(template.FuncMap{
		"size": artifactSize,
	}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	buffer := new(bytes.Buffer)
	if err = temp.Execute(buffer, params); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrTemplateExecute)
	}
	return buffer.Bytes(), nil
}

// artifactSize renders a byte count with IEC units (e.g. 1.5 GiB)
func artifactSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.IBytes(uint64(size))
}
