package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auction-parser/internal/types"

	"github.com/google/uuid"
)

// ResultsFileName returns the audit file name for a run's candidate records.
func ResultsFileName(runID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("parser_results_%s_%s.json", runID, at.Format("20060102_150405"))
}

// WriteResults dumps records, pretty-printed and unescaped, into dir and
// returns the file path.
func WriteResults(dir string, runID uuid.UUID, at time.Time, records []types.CandidateRecord) (string, error) {
	if records == nil {
		records = []types.CandidateRecord{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return "", fmt.Errorf("failed to marshal results to JSON: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}
	path := filepath.Join(dir, ResultsFileName(runID, at))
	if err := writeToFile(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write results to file: %w", err)
	}
	return path, nil
}

// writeToFile writes data to a file
func writeToFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, 0644)
}
