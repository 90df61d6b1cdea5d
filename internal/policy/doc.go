// Package policy defines the mechanism definitions document: the typed
// schema, its parser, semantic validation, the YAML mirror and the
// normalization applied to generator-proposed revisions.
//
// # Document Format
//
//	{
//	  "schema_version": 2,
//	  "champion_file": ".best_strategy.sol",
//	  "champion_edge": 412.7,
//	  "mechanisms": {
//	    "fee_schedule": {
//	      "current_implementation": "flat 30bps",
//	      "code_location": "lines 40-62",
//	      "parameters": {"base_fee": 30},
//	      "modification_directions": ["make fee volatility aware"],
//	      "allowed_overlap_with": ["spread_model"],
//	      "anchors": [{"start": "function computeFee", "end": "^    }", "regex": false}]
//	    }
//	  }
//	}
//
// Parsing is two-pass. The embedded CUE schema (schema.cue) enforces shape
// and types, then Validate enforces cross-references. Parse returns either a
// document or SchemaErrors listing every problem found.
package policy
