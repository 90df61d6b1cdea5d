package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/solosage1/amm-challenge-sub000/internal/anchor"
	"github.com/solosage1/amm-challenge-sub000/internal/ir"
	"github.com/solosage1/amm-challenge-sub000/internal/policy"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Builder renders prompts from the embedded templates.
type Builder struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Builder, error) {
	funcMap := template.FuncMap{
		"join": strings.Join,
	}
	tmpl, err := template.New("prompt").Funcs(funcMap).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

// Attempt is one prior iteration shown to the generator.
type Attempt struct {
	Iteration int
	Mechanism string
	Status    string
	Delta     string
	Reason    string
}

// Attempts converts log entries, oldest first.
func Attempts(entries []ir.LogEntry) []Attempt {
	out := make([]Attempt, 0, len(entries))
	for _, e := range entries {
		a := Attempt{
			Iteration: e.Iteration,
			Mechanism: e.Mechanism,
			Status:    string(e.Status),
			Reason:    e.Reason,
		}
		if e.Delta != nil {
			a.Delta = fmt.Sprintf("%+.4f", *e.Delta)
		}
		if e.Wildcard {
			a.Mechanism = "wildcard"
		}
		out = append(out, a)
	}
	return out
}

// MechanismInput is the data for a single-mechanism prompt.
type MechanismInput struct {
	Champion   ir.Champion
	Mechanism  *policy.Mechanism
	Resolution anchor.Resolution
	Recent     []ir.LogEntry
}

type mechanismView struct {
	ChampionName   string
	Edge           string
	Name           string
	Implementation string
	Location       string
	Overlap        []string
	Parameters     string
	Directions     []string
	Region         string
	Recent         []Attempt
	Source         string
}

// Mechanism renders the prompt asking for a change confined to one
// mechanism.
func (b *Builder) Mechanism(in MechanismInput) (string, error) {
	m := in.Mechanism
	if m == nil {
		return "", fmt.Errorf("mechanism prompt: no mechanism")
	}
	v := mechanismView{
		ChampionName:   in.Champion.Name,
		Edge:           formatEdge(in.Champion.Edge),
		Name:           m.Name,
		Implementation: m.CurrentImplementation,
		Location:       location(in.Resolution),
		Overlap:        m.AllowedOverlapWith,
		Directions:     m.ModificationDirections,
		Recent:         Attempts(in.Recent),
		Source:         strings.TrimRight(in.Champion.Source, "\n"),
	}
	if len(m.Parameters) > 0 {
		params, err := json.MarshalIndent(m.Parameters, "", "  ")
		if err != nil {
			return "", fmt.Errorf("mechanism prompt: parameters: %w", err)
		}
		v.Parameters = string(params)
	}
	if in.Resolution.Resolved() {
		v.Region = anchor.ExtractText(in.Champion.Source, in.Resolution.Spans)
	} else {
		v.Region = "// region could not be located; follow the description above"
	}
	return b.execute("mechanism.tmpl", v)
}

// WildcardInput is the data for an unconstrained exploration prompt.
type WildcardInput struct {
	Champion   ir.Champion
	Mechanisms []string
	Recent     []ir.LogEntry
}

// Wildcard renders the open exploration prompt.
func (b *Builder) Wildcard(in WildcardInput) (string, error) {
	return b.execute("wildcard.tmpl", struct {
		ChampionName string
		Edge         string
		Mechanisms   []string
		Recent       []Attempt
		Source       string
	}{
		ChampionName: in.Champion.Name,
		Edge:         formatEdge(in.Champion.Edge),
		Mechanisms:   in.Mechanisms,
		Recent:       Attempts(in.Recent),
		Source:       strings.TrimRight(in.Champion.Source, "\n"),
	})
}

// RetryInput describes a rejected candidate to regenerate from.
type RetryInput struct {
	Base        string
	Target      string
	Reason      string
	Detail      string
	Attempt     int
	MaxAttempts int
}

// Retry appends the rejection to the original prompt.
func (b *Builder) Retry(in RetryInput) (string, error) {
	in.Base = strings.TrimRight(in.Base, "\n")
	return b.execute("retry.tmpl", in)
}

// Signal summarizes one mechanism's recent failures for evolution.
type Signal struct {
	Name            string
	Attempts        int
	Invalid         int
	TargetUnchanged int
	Overlap         int
	Drift           int
}

// Example is one recent invalid candidate.
type Example struct {
	Iteration int
	Mechanism string
	Reason    string
	Detail    string
}

// EvolutionInput is the data for a definitions revision prompt.
type EvolutionInput struct {
	Champion         ir.Champion
	Definitions      *policy.Document
	Window           int
	MaxNewMechanisms int
	MaxSpanLines     int
	Signals          []Signal
	Examples         []Example
}

// Evolution renders the prompt asking for revised definitions.
func (b *Builder) Evolution(in EvolutionInput) (string, error) {
	if in.Definitions == nil {
		return "", fmt.Errorf("evolution prompt: no definitions")
	}
	defs, err := in.Definitions.MarshalIndent()
	if err != nil {
		return "", fmt.Errorf("evolution prompt: definitions: %w", err)
	}
	return b.execute("evolution.tmpl", struct {
		ChampionName     string
		ChampionLines    int
		Window           int
		MaxNewMechanisms int
		MaxSpanLines     int
		Signals          []Signal
		Examples         []Example
		Definitions      string
		Source           string
	}{
		ChampionName:     in.Champion.Name,
		ChampionLines:    anchor.LineCount(in.Champion.Source),
		Window:           in.Window,
		MaxNewMechanisms: in.MaxNewMechanisms,
		MaxSpanLines:     in.MaxSpanLines,
		Signals:          in.Signals,
		Examples:         in.Examples,
		Definitions:      strings.TrimRight(string(defs), "\n"),
		Source:           strings.TrimRight(in.Champion.Source, "\n"),
	})
}

func (b *Builder) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatEdge(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func location(r anchor.Resolution) string {
	if !r.Resolved() {
		return "unresolved (" + string(r.Status) + ")"
	}
	parts := make([]string, len(r.Spans))
	for i, s := range r.Spans {
		if s.Start == s.End {
			parts[i] = fmt.Sprintf("%d", s.Start)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
		}
	}
	loc := "lines " + strings.Join(parts, ", ")
	if r.Status == anchor.StatusLineRanges {
		loc += " (legacy line ranges)"
	}
	return loc
}
