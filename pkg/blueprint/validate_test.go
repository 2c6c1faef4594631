package blueprint

import (
	"errors"
	"strings"
	"testing"
)

func TestBlueprint_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Blueprint)
		wantField string
		wantRule  string
	}{
		{
			name:   "valid",
			mutate: func(*Blueprint) {},
		},
		{
			name: "duplicate field key",
			mutate: func(b *Blueprint) {
				b.DataModel.CustomFields[1].Key = b.DataModel.CustomFields[0].Key
			},
			wantField: "data_model.custom_fields",
			wantRule:  "unique",
		},
		{
			name:      "duplicate tag",
			mutate:    func(b *Blueprint) { b.DataModel.Tags = []string{"vip", "vip"} },
			wantField: "data_model.tags",
			wantRule:  "unique",
		},
		{
			name:      "empty tag",
			mutate:    func(b *Blueprint) { b.DataModel.Tags = []string{""} },
			wantField: "data_model.tags[0]",
			wantRule:  "required",
		},
		{
			name:      "missing data type",
			mutate:    func(b *Blueprint) { b.DataModel.CustomFields[0].DataType = "" },
			wantField: "data_model.custom_fields[0].dataType",
			wantRule:  "required",
		},
		{
			name:      "pipeline without stages",
			mutate:    func(b *Blueprint) { b.Pipelines[0].Stages = nil },
			wantField: "pipelines[0].stages",
			wantRule:  "min",
		},
		{
			name: "duplicate pipeline name",
			mutate: func(b *Blueprint) {
				b.Pipelines = append(b.Pipelines, Pipeline{Name: b.Pipelines[0].Name, Stages: []string{"x"}})
			},
			wantField: "pipelines",
			wantRule:  "unique",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp := sampleBlueprint()
			tt.mutate(bp)

			err := bp.Validate()
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}

			for _, issue := range verr.Issues {
				if issue.Field == tt.wantField && issue.Rule == tt.wantRule {
					return
				}
			}
			t.Errorf("issues %+v do not contain %s/%s", verr.Issues, tt.wantField, tt.wantRule)
		})
	}
}

func TestBlueprint_ValidateNil(t *testing.T) {
	var bp *Blueprint
	if err := bp.Validate(); err == nil {
		t.Fatal("Validate() on nil blueprint returned nil")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Issues: []Issue{
		{Field: "data_model.tags", Rule: "unique", Message: "must not contain duplicates"},
		{Message: "document is not an object"},
	}}

	msg := err.Error()
	if !strings.HasPrefix(msg, "invalid blueprint: ") {
		t.Errorf("Error() = %q, want invalid blueprint prefix", msg)
	}
	if !strings.Contains(msg, "data_model.tags: must not contain duplicates") {
		t.Errorf("Error() = %q, missing field issue", msg)
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "valid",
			doc: `{"schema_version": "1.0", "data_model": {"custom_fields": [{"name": "A", "dataType": "TEXT", "key": "a"}], "tags": ["t"]},
				"pipelines": [{"name": "P", "stages": ["s"]}], "workflows_manifest": [{"any": "thing"}]}`,
		},
		{
			name: "extra fields allowed",
			doc:  `{"data_model": {"tags": [], "notes": "x"}, "meta": {"plan_hash": "h", "generated_by": "llm"}}`,
		},
		{
			name:    "missing data model",
			doc:     `{"pipelines": []}`,
			wantErr: true,
		},
		{
			name:    "tag is not a string",
			doc:     `{"data_model": {"tags": [42]}}`,
			wantErr: true,
		},
		{
			name:    "empty field key",
			doc:     `{"data_model": {"custom_fields": [{"name": "A", "dataType": "TEXT", "key": ""}]}}`,
			wantErr: true,
		},
		{
			name:    "pipeline without name",
			doc:     `{"data_model": {}, "pipelines": [{"stages": ["s"]}]}`,
			wantErr: true,
		},
		{
			name:    "not json",
			doc:     `{"data_model": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.doc))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) || len(verr.Issues) == 0 {
					t.Errorf("error %v is not a populated *ValidationError", err)
				}
			}
		})
	}
}

func TestValidateDocument_RequiresDataModel(t *testing.T) {
	err := ValidateDocument([]byte(`{"pipelines": [{"name": "Sales", "stages": ["New"]}]}`))

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("ValidateDocument() error = %v, want *ValidationError", err)
	}

	found := false
	for _, issue := range verr.Issues {
		if issue.Field == "data_model" || strings.Contains(issue.Message, "data_model") {
			found = true
		}
		if strings.HasPrefix(issue.Field, "#") {
			t.Errorf("issue field %q should not include the definition name", issue.Field)
		}
	}
	if !found {
		t.Errorf("issues %+v do not mention data_model", verr.Issues)
	}

	if _, err := Parse([]byte(`{"pipelines": [{"name": "Sales", "stages": ["New"]}]}`), FormatJSON); err == nil {
		t.Error("Parse() accepted a blueprint without data_model")
	}
}

func TestIssuePath(t *testing.T) {
	tests := []struct {
		path []string
		want string
	}{
		{[]string{"#Blueprint", "data_model"}, "data_model"},
		{[]string{"data_model", "custom_fields", "0", "key"}, "data_model.custom_fields.0.key"},
		{nil, ""},
	}

	for _, tt := range tests {
		if got := issuePath(tt.path); got != tt.want {
			t.Errorf("issuePath(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
