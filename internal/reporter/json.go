package reporter

import (
	"encoding/json"
	"io"
	"os"

	"sql-advisor/internal/model"
)

// JSONReporter emits the advisory list as a JSON array, one run per
// document. Meant for piping into other tooling.
type JSONReporter struct {
	out io.Writer
}

func NewJSONReporter() *JSONReporter {
	return &JSONReporter{out: os.Stdout}
}

func (r *JSONReporter) Report(advisories []model.Advisory) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(advisories)
}
