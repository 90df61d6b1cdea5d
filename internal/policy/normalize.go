package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Normalize turns a generator-proposed definitions payload into a typed
// document. Fields the payload omits are filled from current, loosely typed
// values are coerced, and self-referential or duplicate overlap entries are
// dropped. The returned notes describe every repair.
//
// The result is not validated; callers run Validate and their own policy
// checks on it.
func Normalize(payload []byte, current *Document) (*Document, []string, error) {
	_, values, err := decodeOrderedObject(payload)
	if err != nil {
		return nil, nil, SchemaErrors{{Code: ErrCodeSyntax, Message: fmt.Sprintf("payload is not a JSON object: %v", err)}}
	}

	var notes []string
	out := &Document{
		SchemaVersion: current.SchemaVersion,
		ChampionFile:  current.ChampionFile,
		ChampionEdge:  current.ChampionEdge,
	}

	mechRaw, ok := values["mechanisms"]
	if !ok {
		// Some responses return the mechanisms map as the whole payload.
		mechRaw = payload
		notes = append(notes, "payload has no mechanisms key; treated as mechanism map")
	} else {
		if v, ok := values["schema_version"]; ok {
			if n, ok := toInt(decodeLoose(v)); ok && n > 0 {
				out.SchemaVersion = n
			}
		}
		if v, ok := values["champion_file"]; ok {
			if s, ok := toString(decodeLoose(v)); ok && s != "" {
				out.ChampionFile = s
			}
		}
	}

	mkeys, mvalues, err := decodeOrderedObject(mechRaw)
	if err != nil {
		return nil, notes, SchemaErrors{{Path: "mechanisms", Code: ErrCodeSchema, Message: fmt.Sprintf("mechanisms is not an object: %v", err)}}
	}

	for _, name := range mkeys {
		fields, ok := decodeLoose(mvalues[name]).(map[string]any)
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: not an object, dropped", name))
			continue
		}
		m, mnotes := normalizeMechanism(name, fields, current.Get(name))
		notes = append(notes, mnotes...)
		out.Mechanisms = append(out.Mechanisms, m)
	}

	if len(out.Mechanisms) == 0 {
		return nil, notes, SchemaErrors{{Path: "mechanisms", Code: ErrCodeNoMechanisms, Message: "normalization produced zero mechanisms"}}
	}
	return out, notes, nil
}

func normalizeMechanism(name string, fields map[string]any, base *Mechanism) (*Mechanism, []string) {
	var notes []string
	m := &Mechanism{Name: name}
	if base != nil {
		m.CurrentImplementation = base.CurrentImplementation
		m.CodeLocation = base.CodeLocation
		m.Parameters = base.Parameters
		m.ModificationDirections = append([]string(nil), base.ModificationDirections...)
		m.AllowedOverlapWith = append([]string(nil), base.AllowedOverlapWith...)
		m.Anchors = append([]AnchorRule(nil), base.Anchors...)
	}

	if v, ok := fields["current_implementation"]; ok {
		if s, ok := toString(v); ok {
			m.CurrentImplementation = s
		}
	}
	if v, ok := fields["code_location"]; ok {
		if s, ok := toString(v); ok {
			m.CodeLocation = s
		}
	}
	if v, ok := fields["parameters"]; ok {
		if p, ok := v.(map[string]any); ok {
			m.Parameters = p
		} else {
			notes = append(notes, fmt.Sprintf("%s: parameters is not an object, kept previous", name))
		}
	}
	if v, ok := fields["modification_directions"]; ok {
		m.ModificationDirections = toStringList(v)
	}
	if v, ok := fields["allowed_overlap_with"]; ok {
		m.AllowedOverlapWith = toStringList(v)
	}
	if v, ok := fields["anchors"]; ok {
		anchors, anotes := toAnchors(name, v)
		m.Anchors = anchors
		notes = append(notes, anotes...)
	}

	var overlap []string
	seen := make(map[string]bool)
	for _, o := range m.AllowedOverlapWith {
		switch {
		case o == name:
			notes = append(notes, fmt.Sprintf("%s: dropped self-referential overlap entry", name))
		case seen[o]:
			notes = append(notes, fmt.Sprintf("%s: dropped duplicate overlap entry %q", name, o))
		default:
			overlap = append(overlap, o)
		}
		seen[o] = true
	}
	m.AllowedOverlapWith = overlap
	return m, notes
}

func toAnchors(name string, v any) ([]AnchorRule, []string) {
	var items []any
	switch val := v.(type) {
	case []any:
		items = val
	case map[string]any:
		items = []any{val}
	default:
		return nil, []string{fmt.Sprintf("%s: anchors has unsupported type %T", name, v)}
	}

	var notes []string
	var out []AnchorRule
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			notes = append(notes, fmt.Sprintf("%s: anchor %d is not an object, dropped", name, i))
			continue
		}
		a := AnchorRule{}
		a.Start, _ = toString(obj["start"])
		if a.Start == "" {
			notes = append(notes, fmt.Sprintf("%s: anchor %d has no start, dropped", name, i))
			continue
		}
		a.End, _ = toString(obj["end"])
		a.Regex, _ = toBool(obj["regex"])
		a.Occurrence, _ = toInt(obj["occurrence"])
		a.EndOccurrence, _ = toInt(obj["end_occurrence"])
		a.Before, _ = toInt(obj["before"])
		a.After, _ = toInt(obj["after"])
		if a.Before < 0 {
			a.Before = 0
		}
		if a.After < 0 {
			a.After = 0
		}
		out = append(out, a)
	}
	return out, notes
}

func decodeLoose(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i), true
		}
		if f, err := val.Float64(); err == nil {
			return int(f), true
		}
	case float64:
		return int(val), true
	case int:
		return val, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0", "":
			return false, true
		}
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0, err == nil
	}
	return false, false
}

func toStringList(v any) []string {
	switch val := v.(type) {
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := toString(item); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	default:
		return nil
	}
}
