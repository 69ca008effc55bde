package main

import (
	"github.com/dan-v/rattlesnakeos-builder/cmd"
	"github.com/dan-v/rattlesnakeos-builder/internal/templates"
	roottemplates "github.com/dan-v/rattlesnakeos-builder/templates"
)

var version string

func main() {
	cmd.Execute(version, &templates.TemplateFiles{
		ReleaseSummary: roottemplates.ReleaseSummaryTemplate,
	})
}
