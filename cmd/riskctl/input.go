package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// readRecords loads inspection records from path, or stdin for "-".
// JSON arrays, {"records": [...]} documents, JSON lines and YAML lists
// are accepted.
func readRecords(path string, stdin io.Reader) ([]models.InspectionRecord, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	records, err := decodeRecords(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

func decodeRecords(data []byte, ext string) ([]models.InspectionRecord, error) {
	if ext == ".yaml" || ext == ".yml" {
		var records []models.InspectionRecord
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []models.InspectionRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapped struct {
		Records []models.InspectionRecord `json:"records"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err == nil && len(wrapped.Records) > 0 {
		return wrapped.Records, nil
	}

	// JSON lines: one record per object
	var records []models.InspectionRecord
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var rec models.InspectionRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// readRuleSet loads a YAML or JSON rule proposal. Unlike rule files used
// at startup, proposals may omit the version and effective date.
func readRuleSet(path string) (*models.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rs models.RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &rs, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// newTable returns a borderless left-aligned table; call Render when done.
func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoFormatHeaders(false)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	t.SetHeaderLine(false)
	t.SetColumnSeparator("")
	t.SetCenterSeparator("")
	t.SetRowSeparator("")
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	return t
}
