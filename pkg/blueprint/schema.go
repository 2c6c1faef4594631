package blueprint

import (
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// blueprintSchema is the contract for blueprint documents produced upstream.
const blueprintSchema = `
#CustomField: {
	name:     string & !=""
	dataType: string & !=""
	key:      string & !=""
	...
}

#Pipeline: {
	name:   string & !=""
	stages: [...string]
	...
}

#Blueprint: {
	schema_version?: string

	meta?: {
		plan_hash?:       string
		target_business?: string
		...
	}

	data_model!: {
		custom_fields?: [...#CustomField]
		tags?:          [...string]
		...
	}

	pipelines?:          [...#Pipeline]
	workflows_manifest?: [...]
	qa_requirements?:    [...]
	...
}
`

// ValidateDocument checks a raw JSON blueprint against the #Blueprint schema.
func ValidateDocument(data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(blueprintSchema, cue.Filename("blueprint.cue"))
	if err := schema.Err(); err != nil {
		return &ValidationError{Issues: convertCUEErrors(err)}
	}

	doc := ctx.CompileBytes(data, cue.Filename("blueprint.json"))
	if err := doc.Err(); err != nil {
		return &ValidationError{Issues: convertCUEErrors(err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Blueprint")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Issues: convertCUEErrors(err)}
	}

	return nil
}

func convertCUEErrors(err error) []Issue {
	var issues []Issue
	for _, e := range errors.Errors(err) {
		issues = append(issues, Issue{
			Field:   issuePath(e.Path()),
			Rule:    "schema",
			Message: errors.Details(e, nil),
		})
	}
	if len(issues) == 0 {
		issues = append(issues, Issue{Rule: "schema", Message: err.Error()})
	}
	return issues
}

// issuePath joins a CUE error path, dropping definition selectors such as
// #Blueprint so paths match the document's field names.
func issuePath(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if strings.HasPrefix(p, "#") {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ".")
}
