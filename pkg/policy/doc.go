// Package policy gates build plans with Open Policy Agent rego policies.
//
// Every policy module defines a "deny" set. Members are either strings or
// objects:
//
//	deny contains violation if {
//		...
//		violation := {
//			"message": "...",
//			"severity": "error",
//			"resource": "tag_vip",
//		}
//	}
//
// Violations with severity error or critical deny the plan; anything else is
// reported as a warning. Policies see the plan as input:
//
//	{
//	  "tenant_id": "...",
//	  "plan_hash": "indigo_hash_...",
//	  "steps": [{"step_number": 1, "kind": "custom_field", "resource_key": "cf_...", ...}],
//	  "blueprint": {"data_model": {"custom_fields": [...], "tags": [...]}, "pipelines": [...]},
//	  "limits": {"step_budget": 100}
//	}
//
// Built-in policies:
//
//   - tag-collisions: tags equal after lowercasing and trimming (error)
//   - pipeline-stages: duplicate stage names (error), more than 25 stages (warning)
//   - custom-field-types: dataType outside the platform's set (warning)
//   - step-budget: more steps than the rate limiter capacity (warning)
//
// Additional .rego or .json policies are loaded from configured paths and,
// with Watch, reloaded when the files change. Modules must declare
// "import rego.v1".
package policy
