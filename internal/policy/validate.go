package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate checks the semantic rules the CUE schema cannot express.
// Returns all errors found (does not fail-fast).
func Validate(doc *Document) SchemaErrors {
	var errs SchemaErrors

	if len(doc.Mechanisms) == 0 {
		errs = append(errs, SchemaError{
			Path:    "mechanisms",
			Code:    ErrCodeNoMechanisms,
			Message: "at least one mechanism is required",
		})
		return errs
	}

	seen := make(map[string]bool, len(doc.Mechanisms))
	for _, m := range doc.Mechanisms {
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, SchemaError{Path: "mechanisms", Code: ErrCodeEmptyName, Message: "mechanism name is empty"})
			continue
		}
		if seen[m.Name] {
			errs = append(errs, SchemaError{
				Path:    "mechanisms." + m.Name,
				Code:    ErrCodeDuplicate,
				Message: "mechanism defined twice",
			})
		}
		seen[m.Name] = true
	}

	for _, m := range doc.Mechanisms {
		errs = append(errs, validateMechanism(doc, m)...)
	}
	return errs
}

func validateMechanism(doc *Document, m *Mechanism) SchemaErrors {
	var errs SchemaErrors
	base := "mechanisms." + m.Name

	overlapSeen := make(map[string]bool)
	for _, other := range m.AllowedOverlapWith {
		path := base + ".allowed_overlap_with"
		switch {
		case other == m.Name:
			errs = append(errs, SchemaError{Path: path, Code: ErrCodeOverlapSelf, Message: "mechanism lists itself"})
		case !doc.Has(other):
			errs = append(errs, SchemaError{Path: path, Code: ErrCodeOverlapUnknown, Message: fmt.Sprintf("unknown mechanism %q", other)})
		case overlapSeen[other]:
			errs = append(errs, SchemaError{Path: path, Code: ErrCodeDuplicate, Message: fmt.Sprintf("%q listed twice", other)})
		}
		overlapSeen[other] = true
	}

	for i, a := range m.Anchors {
		path := fmt.Sprintf("%s.anchors.%d", base, i)
		if a.Start == "" {
			errs = append(errs, SchemaError{Path: path + ".start", Code: ErrCodeEmptyAnchor, Message: "start pattern is empty"})
			continue
		}
		if !a.Regex {
			continue
		}
		if _, err := regexp.Compile(a.Start); err != nil {
			errs = append(errs, SchemaError{Path: path + ".start", Code: ErrCodeBadRegex, Message: err.Error()})
		}
		if a.End != "" {
			if _, err := regexp.Compile(a.End); err != nil {
				errs = append(errs, SchemaError{Path: path + ".end", Code: ErrCodeBadRegex, Message: err.Error()})
			}
		}
	}
	return errs
}
