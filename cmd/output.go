package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/vocallabs/llm-batch/internal/model"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// printSummary writes a run summary to w in the requested format.
func printSummary(w io.Writer, format string, s *model.BatchSummary) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(s), "encode summary")
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "encode summary")
		}
		return eris.Wrap(enc.Close(), "encode summary")
	default:
		return eris.Errorf("unsupported output format: %s", format)
	}
}
