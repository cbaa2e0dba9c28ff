package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// parsed caches compiled prompt templates by source text. Node configs are
// fixed for a graph, so the cache is bounded by the number of distinct prompts.
var parsed sync.Map // string -> *template.Template

var promptFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
	"context": formatDocuments,
}

// RenderTemplate renders text as a text/template over the state channel
// values. Text without template markers is returned unchanged.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := compile(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, state); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func compile(text string) (*template.Template, error) {
	if t, ok := parsed.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	parsed.Store(text, t)
	return t, nil
}

// formatDocuments renders a retrieval channel value (a list of documents in
// their JSON shape) as one "[id] content" line per document.
func formatDocuments(docs []any) string {
	var sb strings.Builder
	for i, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			continue
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%v] %v", doc["id"], doc["content"])
	}
	return sb.String()
}
