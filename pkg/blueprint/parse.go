package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the serialization of a blueprint document.
type Format string

const (
	// FormatJSON is the native blueprint format.
	FormatJSON Format = "json"

	// FormatYAML is accepted for hand-written blueprints.
	FormatYAML Format = "yaml"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads, schema-checks, decodes and validates the blueprint at path.
func Load(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint %s: %w", path, err)
	}

	bp, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("blueprint %s: %w", path, err)
	}
	return bp, nil
}

// Parse decodes a blueprint document. The document is checked against the
// #Blueprint schema before decoding and the result is validated afterwards.
func Parse(data []byte, format Format) (*Blueprint, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var bp Blueprint
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&bp); err != nil {
		return nil, fmt.Errorf("failed to decode blueprint: %w", err)
	}

	if err := bp.Validate(); err != nil {
		return nil, err
	}

	bp.Ignored = ignoredKeys(data)
	return &bp, nil
}

var (
	dataModelKeys   = []string{"custom_fields", "tags"}
	customFieldKeys = []string{"name", "dataType", "key"}
	pipelineKeys    = []string{"name", "stages"}
)

// ignoredKeys returns the dotted paths of resource attributes that decoding
// drops, sorted. data has already passed the schema.
func ignoredKeys(data []byte) []string {
	var doc struct {
		DataModel struct {
			CustomFields []map[string]json.RawMessage `json:"custom_fields"`
		} `json:"data_model"`
		Pipelines []map[string]json.RawMessage `json:"pipelines"`
	}
	var dataModel map[string]json.RawMessage
	var top map[string]json.RawMessage
	if json.Unmarshal(data, &doc) != nil || json.Unmarshal(data, &top) != nil {
		return nil
	}
	if json.Unmarshal(top["data_model"], &dataModel) != nil {
		return nil
	}

	var ignored []string
	collect := func(prefix string, obj map[string]json.RawMessage, known []string) {
		for key := range obj {
			if !slices.Contains(known, key) {
				ignored = append(ignored, prefix+key)
			}
		}
	}

	collect("data_model.", dataModel, dataModelKeys)
	for i, field := range doc.DataModel.CustomFields {
		collect(fmt.Sprintf("data_model.custom_fields[%d].", i), field, customFieldKeys)
	}
	for i, pipeline := range doc.Pipelines {
		collect(fmt.Sprintf("pipelines[%d].", i), pipeline, pipelineKeys)
	}

	sort.Strings(ignored)
	return ignored
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML blueprint: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML blueprint: %w", err)
	}
	return out, nil
}
