// Package blueprint defines the declarative blueprint document consumed by the
// provisioning engine, together with its parsing, validation and plan hashing.
//
// # Overview
//
// A blueprint describes the resources to create for one client location in the
// CRM automation platform:
//
//   - data_model.custom_fields: ordered custom field definitions
//   - data_model.tags: ordered tag names
//   - pipelines: ordered pipelines with ordered stage names
//   - workflows_manifest, qa_requirements: opaque documents carried through untouched
//
// # Validation
//
// Blueprints are checked in two layers. The raw document is unified with the
// #Blueprint CUE schema, which guards the JSON contract produced upstream. The
// decoded structure is then validated with go-playground/validator rules that
// reject empty names, duplicate field keys, duplicate tags, duplicate pipeline
// names and pipelines without stages. Both layers report a *ValidationError.
//
// # Plan Hash
//
// ComputePlanHash derives a stable content hash from the data model and the
// pipelines only. The input is canonicalized (object keys sorted recursively,
// missing sequences treated as empty) before hashing, so the same content always
// produces the same hash regardless of how it was serialized:
//
//	bp, err := blueprint.Load("blueprint.json")
//	if err != nil {
//	    return err
//	}
//	hash := blueprint.ComputePlanHash(bp) // indigo_hash_0123456789abcdef
package blueprint
