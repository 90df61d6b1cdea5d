package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

// CurrentSchemaVersion is written into documents produced by this module.
const CurrentSchemaVersion = 2

// AnchorRule locates one region of a mechanism by text patterns.
//
// Occurrence fields are 1-based; zero means "first". End defaults to Start.
type AnchorRule struct {
	Start         string `json:"start" yaml:"start"`
	End           string `json:"end,omitempty" yaml:"end,omitempty"`
	Regex         bool   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Occurrence    int    `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
	EndOccurrence int    `json:"end_occurrence,omitempty" yaml:"end_occurrence,omitempty"`
	Before        int    `json:"before,omitempty" yaml:"before,omitempty"`
	After         int    `json:"after,omitempty" yaml:"after,omitempty"`
}

// StartIndex returns the effective 1-based start occurrence.
func (a AnchorRule) StartIndex() int {
	if a.Occurrence < 1 {
		return 1
	}
	return a.Occurrence
}

// EndIndex returns the effective 1-based end occurrence.
func (a AnchorRule) EndIndex() int {
	if a.EndOccurrence < 1 {
		return 1
	}
	return a.EndOccurrence
}

// EndPattern returns the end pattern, defaulting to the start pattern.
func (a AnchorRule) EndPattern() string {
	if a.End == "" {
		return a.Start
	}
	return a.End
}

// Mechanism is one named, independently mutable region of the champion.
type Mechanism struct {
	Name                   string         `json:"-" yaml:"-"`
	CurrentImplementation  string         `json:"current_implementation,omitempty" yaml:"current_implementation,omitempty"`
	CodeLocation           string         `json:"code_location,omitempty" yaml:"code_location,omitempty"`
	Parameters             map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ModificationDirections []string       `json:"modification_directions,omitempty" yaml:"modification_directions,omitempty"`
	AllowedOverlapWith     []string       `json:"allowed_overlap_with,omitempty" yaml:"allowed_overlap_with,omitempty"`
	Anchors                []AnchorRule   `json:"anchors,omitempty" yaml:"anchors,omitempty"`
}

// AllowsOverlap reports whether other may change alongside m.
func (m *Mechanism) AllowsOverlap(other string) bool {
	for _, o := range m.AllowedOverlapWith {
		if o == other {
			return true
		}
	}
	return false
}

// Document is the mechanism definitions file.
//
// Mechanisms keep the key order of the source file. That order is the
// selector's tie-break order, so it survives every load/save cycle.
type Document struct {
	SchemaVersion int
	ChampionFile  string
	ChampionEdge  *float64
	Mechanisms    []*Mechanism
}

// Names returns mechanism names in definition order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Mechanisms))
	for i, m := range d.Mechanisms {
		names[i] = m.Name
	}
	return names
}

// Get returns the named mechanism or nil.
func (d *Document) Get(name string) *Mechanism {
	for _, m := range d.Mechanisms {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Has reports whether the named mechanism is defined.
func (d *Document) Has(name string) bool {
	return d.Get(name) != nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("policy: clone marshal: %v", err))
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("policy: clone unmarshal: %v", err))
	}
	return &out
}

// Hash returns the content hash of the document.
func (d *Document) Hash() (string, error) {
	return ir.DefinitionsHash(d)
}

// MarshalIndent renders the document as the on-disk JSON form.
func (d *Document) MarshalIndent() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalJSON writes mechanisms as an object in definition order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"schema_version":`)
	fmt.Fprintf(&buf, "%d", d.SchemaVersion)

	buf.WriteString(`,"champion_file":`)
	cf, err := json.Marshal(d.ChampionFile)
	if err != nil {
		return nil, err
	}
	buf.Write(cf)

	buf.WriteString(`,"champion_edge":`)
	ce, err := json.Marshal(d.ChampionEdge)
	if err != nil {
		return nil, err
	}
	buf.Write(ce)

	buf.WriteString(`,"mechanisms":{`)
	for i, m := range d.Mechanisms {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("mechanism %q: %w", m.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// documentHeader holds the scalar top-level fields.
type documentHeader struct {
	SchemaVersion int      `json:"schema_version"`
	ChampionFile  string   `json:"champion_file"`
	ChampionEdge  *float64 `json:"champion_edge"`
}

// UnmarshalJSON reads the document, preserving mechanism key order.
// It performs no semantic validation; use Parse for that.
func (d *Document) UnmarshalJSON(data []byte) error {
	var hdr documentHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return err
	}
	var raw struct {
		Mechanisms json.RawMessage `json:"mechanisms"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.SchemaVersion = hdr.SchemaVersion
	d.ChampionFile = hdr.ChampionFile
	d.ChampionEdge = hdr.ChampionEdge
	d.Mechanisms = nil

	if len(raw.Mechanisms) == 0 || string(raw.Mechanisms) == "null" {
		return nil
	}
	keys, values, err := decodeOrderedObject(raw.Mechanisms)
	if err != nil {
		return fmt.Errorf("mechanisms: %w", err)
	}
	for _, k := range keys {
		m := &Mechanism{}
		if err := json.Unmarshal(values[k], m); err != nil {
			return fmt.Errorf("mechanisms.%s: %w", k, err)
		}
		m.Name = k
		d.Mechanisms = append(d.Mechanisms, m)
	}
	return nil
}

// decodeOrderedObject splits a JSON object into its keys (in source order)
// and raw values. Duplicate keys are an error.
func decodeOrderedObject(data []byte) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var keys []string
	values := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected string key, got %v", tok)
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, dup := values[key]; dup {
			return nil, nil, fmt.Errorf("duplicate key %q", key)
		}
		keys = append(keys, key)
		values[key] = val
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

// MarshalYAML renders the document for the YAML mirror, keeping order.
func (d *Document) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	addScalar := func(key string, value any) error {
		var vn yaml.Node
		if err := vn.Encode(value); err != nil {
			return err
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &vn)
		return nil
	}
	if err := addScalar("schema_version", d.SchemaVersion); err != nil {
		return nil, err
	}
	if err := addScalar("champion_file", d.ChampionFile); err != nil {
		return nil, err
	}
	if err := addScalar("champion_edge", d.ChampionEdge); err != nil {
		return nil, err
	}

	mechs := &yaml.Node{Kind: yaml.MappingNode}
	for _, m := range d.Mechanisms {
		var mn yaml.Node
		if err := mn.Encode(m); err != nil {
			return nil, fmt.Errorf("mechanism %q: %w", m.Name, err)
		}
		mechs.Content = append(mechs.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: m.Name}, &mn)
	}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "mechanisms"}, mechs)
	return root, nil
}

// MarshalYAMLBytes renders the YAML mirror.
func (d *Document) MarshalYAMLBytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
