package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/alessio/shellescape"
	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
)

// Data is what a bootstrap template is rendered with, once per block.
type Data struct {
	Site       string
	Block      string
	Nodes      int
	TaskBlocks string
	Walltime   time.Duration
	// Script is the worker command configured by the operator.
	Script string
}

func (d Data) WalltimeSeconds() int {
	return int(d.Walltime / time.Second)
}

const defaultSource = `#!/bin/bash
# blockpool site {{ .Site }}, block {{ .Block }}
set -euo pipefail

export BLOCKPOOL_SITE={{ shellquote .Site }}
export BLOCKPOOL_BLOCK={{ shellquote .Block }}
export BLOCKPOOL_NODES={{ .Nodes }}
export CORES=$(getconf _NPROCESSORS_ONLN)
export TASK_BLOCKS="{{ default "1" .TaskBlocks }}"
{{- if .Walltime }}
export BLOCKPOOL_WALLTIME={{ .WalltimeSeconds }}
{{- end }}

cd ~
{{- with .Script | trim }}
{{ if $.Walltime }}timeout {{ $.WalltimeSeconds }} {{ end }}bash -c {{ shellquote . }}
{{- end }}
`

type Template struct {
	tmpl *template.Template
}

func Parse(source string) (*Template, error) {
	tmpl, err := template.New("bootstrap").
		Funcs(sprig.TxtFuncMap()).
		Funcs(template.FuncMap{
			"shellquote": shellescape.Quote,
		}).
		Option("missingkey=error").
		Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bootstrap template: %w", err)
	}

	return &Template{tmpl: tmpl}, nil
}

// Default returns the built-in template, which exports the block environment
// and runs the configured script under the walltime.
func Default() *Template {
	return lo.Must(Parse(defaultSource))
}

// Load parses the template at path, or returns the built-in one when path is empty.
func Load(path string) (*Template, error) {
	if path == "" {
		return Default(), nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap template: %w", err)
	}
	return Parse(string(source))
}

func (t *Template) Render(data Data) (string, error) {
	var output strings.Builder
	if err := t.tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to render bootstrap script for block '%s': %w", data.Block, err)
	}
	return output.String(), nil
}
