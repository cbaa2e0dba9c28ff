package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentgraph/core"
)

// LoadYAML decodes and validates a spec. Unknown fields are rejected.
//
//	name: rag
//	entry: retrieve
//	budget: 8
//	channels:
//	  question: {kind: overwrite}
//	  docs: {kind: overwrite}
//	nodes:
//	  retrieve:
//	    kind: retrieval
//	    outputs: [docs]
//	    config: {query_channel: question, k: 4}
//	edges:
//	  retrieve:
//	    - to: __end__
func LoadYAML(r io.Reader) (*Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("%w: decode yaml: %v", core.ErrInvalidGraphSpec, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadYAMLBytes is LoadYAML over an in-memory document.
func LoadYAMLBytes(b []byte) (*Spec, error) {
	return LoadYAML(bytes.NewReader(b))
}

// LoadYAMLFile reads a spec from disk.
func LoadYAMLFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}
