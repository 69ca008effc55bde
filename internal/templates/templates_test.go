package templates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	roottemplates "github.com/dan-v/rattlesnakeos-builder/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_RenderSummary(t *testing.T) {
	tests := map[string]struct {
		template         string
		summary          *Summary
		expectedMarkdown string
		expectedHTML     string
		expectedErr      error
	}{
		"happy path summary render": {
			template:         "# <% .OSName %> <% .BuildNumber %>\n<% range .Targets %>\n## <% .Friendly %>\n<% range .Artifacts %>\n- <% .Name %> <% size .Size %> <% .SHA256 %>\n<% end %><% end %>",
			summary:          testSummary,
			expectedMarkdown: "# grapheneos 2025020100\n\n## Pixel 8 Pro\n\n- husky-ota_update-2025020100.zip 1.5 GiB abc123\n",
			expectedHTML:     "<h1>grapheneos 2025020100</h1>\n<h2>Pixel 8 Pro</h2>\n<ul>\n<li>husky-ota_update-2025020100.zip 1.5 GiB abc123</li>\n</ul>\n",
		},
		"bad template variable returns error": {
			template:    `<% .Bad %>`,
			summary:     testSummary,
			expectedErr: ErrTemplateExecute,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			templates := New(&TemplateFiles{ReleaseSummary: tc.template})

			markdown, html, err := templates.RenderSummary(tc.summary)
			assert.ErrorIs(t, err, tc.expectedErr)

			assert.Equal(t, tc.expectedMarkdown, string(markdown))
			assert.Equal(t, tc.expectedHTML, string(html))
		})
	}
}

func TestTemplates_WriteSummaryDefaultTemplate(t *testing.T) {
	templates := New(&TemplateFiles{ReleaseSummary: roottemplates.ReleaseSummaryTemplate})
	dir := filepath.Join(t.TempDir(), "2025020100")

	require.Nil(t, templates.WriteSummary(dir, testSummary))

	markdown, err := os.ReadFile(filepath.Join(dir, SummaryMarkdownFilename))
	require.Nil(t, err)
	assert.Contains(t, string(markdown), "# grapheneos 2025020100")
	assert.Contains(t, string(markdown), "| husky-ota_update-2025020100.zip | 1.5 GiB | `abc123` |")
	assert.Contains(t, string(markdown), "Includes an OTA update patched with Magisk.")
	assert.Contains(t, string(markdown), "- comet")

	html, err := os.ReadFile(filepath.Join(dir, SummaryHTMLFilename))
	require.Nil(t, err)
	assert.Contains(t, string(html), "<table>")
	assert.Contains(t, string(html), "<td>husky-ota_update-2025020100.zip</td>")
}

func TestArtifactSize(t *testing.T) {
	tests := map[string]struct {
		size     int64
		expected string
	}{
		"bytes":     {size: 512, expected: "512 B"},
		"kibibytes": {size: 2048, expected: "2.0 KiB"},
		"gibibytes": {size: 3 << 30, expected: "3.0 GiB"},
		"negative":  {size: -1, expected: "0 B"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, artifactSize(tc.size))
		})
	}
}

var testSummary = &Summary{
	RunID:       "run",
	Version:     "test version",
	OSName:      "grapheneos",
	Tag:         "2025020100",
	BuildID:     "AP4A.250105.002",
	OSVersion:   "15",
	BuildNumber: "2025020100",
	GeneratedAt: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
	Targets: []TargetSummary{
		{
			Name:     "husky",
			Friendly: "Pixel 8 Pro",
			Rooted:   true,
			Artifacts: []Artifact{
				{Name: "husky-ota_update-2025020100.zip", Size: 1610612736, SHA256: "abc123"},
			},
		},
	},
	Failed: []string{"comet"},
}
