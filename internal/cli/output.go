package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// scanReport is the structured form of a scan result.
type scanReport struct {
	Host          string   `json:"host" yaml:"host"`
	WindowMinutes int      `json:"window_minutes" yaml:"window_minutes"`
	Files         []string `json:"files" yaml:"files"`
}

// writeReport renders r as plain filenames (text), JSON or YAML.
func writeReport(w io.Writer, format string, r scanReport) error {
	switch format {
	case "", "text":
		for _, name := range r.Files {
			if _, err := fmt.Fprintln(w, name); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (supported: text, json, yaml)", format)
	}
}
