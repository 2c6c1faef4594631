package blueprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PlanHashPrefix prefixes every plan hash.
const PlanHashPrefix = "indigo_hash_"

// planHashLength is the number of hex characters kept from the digest.
const planHashLength = 16

// hashInput is the subset of a blueprint that determines its plan hash.
type hashInput struct {
	DataModel DataModel  `json:"data_model"`
	Pipelines []Pipeline `json:"pipelines"`
}

// ComputePlanHash returns the content hash of the blueprint's data model and
// pipelines. Workflows, QA requirements and metadata do not contribute.
func ComputePlanHash(bp *Blueprint) string {
	canonical, err := Canonicalize(newHashInput(bp))
	if err != nil {
		// hashInput only holds strings and slices, so encoding cannot fail.
		panic(fmt.Sprintf("blueprint: canonicalize hash input: %v", err))
	}

	sum := sha256.Sum256(canonical)
	return PlanHashPrefix + hex.EncodeToString(sum[:])[:planHashLength]
}

// IsPlanHash reports whether s has the shape of a plan hash.
func IsPlanHash(s string) bool {
	if len(s) != len(PlanHashPrefix)+planHashLength || s[:len(PlanHashPrefix)] != PlanHashPrefix {
		return false
	}
	_, err := hex.DecodeString(s[len(PlanHashPrefix):])
	return err == nil
}

func newHashInput(bp *Blueprint) hashInput {
	in := hashInput{
		DataModel: DataModel{
			CustomFields: bp.DataModel.CustomFields,
			Tags:         bp.DataModel.Tags,
		},
		Pipelines: make([]Pipeline, 0, len(bp.Pipelines)),
	}
	if in.DataModel.CustomFields == nil {
		in.DataModel.CustomFields = []CustomField{}
	}
	if in.DataModel.Tags == nil {
		in.DataModel.Tags = []string{}
	}
	for _, p := range bp.Pipelines {
		if p.Stages == nil {
			p.Stages = []string{}
		}
		in.Pipelines = append(in.Pipelines, p)
	}
	return in
}

// Canonicalize encodes v as JSON with object keys sorted at every depth and
// without insignificant whitespace. Numbers keep their literal representation.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	// Maps are encoded with sorted keys.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode canonical value: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
