package policy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Schema error codes (E200-E299)
const (
	ErrCodeSyntax         = "E200" // not valid JSON
	ErrCodeSchema         = "E201" // structural schema violation
	ErrCodeNoMechanisms   = "E202" // document defines no mechanisms
	ErrCodeOverlapSelf    = "E203" // allowed_overlap_with names the mechanism itself
	ErrCodeOverlapUnknown = "E204" // allowed_overlap_with names an undefined mechanism
	ErrCodeBadRegex       = "E205" // regex anchor does not compile
	ErrCodeEmptyName      = "E206" // mechanism name is empty
	ErrCodeDuplicate      = "E207" // duplicate mechanism or overlap entry
	ErrCodeEmptyAnchor    = "E208" // anchor start pattern is empty
)

// SchemaError is one structural or semantic problem in a definitions document.
type SchemaError struct {
	Path    string `json:"path,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e SchemaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// SchemaErrors is the structured list returned when a document is rejected.
type SchemaErrors []SchemaError

// Error implements the error interface.
func (es SchemaErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("definitions rejected (%d errors): %s", len(es), strings.Join(parts, "; "))
}

// AsSchemaErrors extracts SchemaErrors from a (possibly wrapped) error.
func AsSchemaErrors(err error) (SchemaErrors, bool) {
	var es SchemaErrors
	if errors.As(err, &es) {
		return es, true
	}
	return nil, false
}

// Parse validates raw definitions JSON and returns the typed document.
//
// Validation runs in two passes: the embedded CUE schema checks shape and
// types, then Validate checks cross-references. Either pass failing returns
// SchemaErrors; unknown shapes are never silently defaulted.
func Parse(data []byte) (*Document, error) {
	if !json.Valid(data) {
		return nil, SchemaErrors{{Code: ErrCodeSyntax, Message: "definitions are not valid JSON"}}
	}

	if errs := checkSchema(data); len(errs) > 0 {
		return nil, errs
	}

	doc := &Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, SchemaErrors{{Code: ErrCodeSchema, Message: err.Error()}}
	}

	if errs := Validate(doc); len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}

// Load reads and parses a definitions file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", path, err)
	}
	return doc, nil
}

// checkSchema unifies the data with #Document and converts CUE errors.
func checkSchema(data []byte) SchemaErrors {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return SchemaErrors{{Code: ErrCodeSchema, Message: fmt.Sprintf("internal schema: %v", err)}}
	}
	def := schema.LookupPath(cue.ParsePath("#Document"))

	val := ctx.CompileBytes(data, cue.Filename("definitions.json"))
	if err := val.Err(); err != nil {
		return fromCUEError(ErrCodeSyntax, err)
	}

	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fromCUEError(ErrCodeSchema, err)
	}
	return nil
}

// fromCUEError flattens a CUE error tree into SchemaErrors.
func fromCUEError(code string, err error) SchemaErrors {
	var out SchemaErrors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, SchemaError{
			Path:    strings.Join(e.Path(), "."),
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(out) == 0 {
		out = SchemaErrors{{Code: code, Message: err.Error()}}
	}
	return out
}
