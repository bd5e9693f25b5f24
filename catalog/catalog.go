// Package catalog provides the immutable ENS question catalog.
// Question definitions are loaded once at boot from YAML files and
// never change for the lifetime of the process.
package catalog

import (
	"fmt"
	"sort"
)

// Domain identifies an ENS control domain.
type Domain string

const (
	DomainBackups       Domain = "Backups"
	DomainAccessControl Domain = "AccessControl"
	DomainMonitoring    Domain = "Monitoring"
	DomainIncidents     Domain = "Incidents"
	DomainContinuity    Domain = "Continuity"
)

// RequiredField is an atomic datum that must be gathered before a
// question counts as fully answered.
type RequiredField struct {
	// Name is the stable field identifier (e.g., "frequency").
	Name string `yaml:"name" json:"name"`

	// Description tells the extraction call what the field means.
	Description string `yaml:"description" json:"description"`

	// Format is a validation hint: "text", "date", "frequency",
	// "number", "boolean", or "enum:a|b|c". Empty means "text".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// QuestionDefinition describes one ENS compliance question.
type QuestionDefinition struct {
	// ID uniquely identifies the question (e.g., "backups_frequency").
	ID string `yaml:"id" json:"id"`

	// Domain is the ENS control domain this question belongs to.
	Domain Domain `yaml:"domain" json:"domain"`

	// Prompt is the opening question text shown when the question
	// becomes active.
	Prompt string `yaml:"prompt" json:"prompt"`

	// Fields lists the required fields in the order they should be
	// asked about. Order matters: the planner always asks for the
	// first unsatisfied field.
	Fields []RequiredField `yaml:"fields" json:"fields"`

	// Requires lists question IDs that must be answered before this
	// question becomes eligible.
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
}

// Field returns the named required field, or nil if the question does
// not declare it.
func (q *QuestionDefinition) Field(name string) *RequiredField {
	for i := range q.Fields {
		if q.Fields[i].Name == name {
			return &q.Fields[i]
		}
	}
	return nil
}

// Catalog holds the full set of question definitions. It is immutable
// after construction and safe for concurrent use.
type Catalog struct {
	questions []QuestionDefinition
	byID      map[string]*QuestionDefinition
}

// New builds a catalog from the given definitions, preserving order.
// It validates id uniqueness, field presence, prerequisite references
// and the absence of prerequisite cycles.
func New(questions []QuestionDefinition) (*Catalog, error) {
	c := &Catalog{
		questions: questions,
		byID:      make(map[string]*QuestionDefinition, len(questions)),
	}

	for i := range c.questions {
		q := &c.questions[i]
		if q.ID == "" {
			return nil, fmt.Errorf("question at index %d has no id", i)
		}
		if q.Domain == "" {
			return nil, fmt.Errorf("question %s has no domain", q.ID)
		}
		if len(q.Fields) == 0 {
			return nil, fmt.Errorf("question %s declares no required fields", q.ID)
		}
		seen := make(map[string]bool, len(q.Fields))
		for _, f := range q.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("question %s has a field with no name", q.ID)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("question %s declares field %s twice", q.ID, f.Name)
			}
			seen[f.Name] = true
		}
		if _, dup := c.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id: %s", q.ID)
		}
		c.byID[q.ID] = q
	}

	// Prerequisites must reference known questions and form no cycles.
	for _, q := range c.questions {
		for _, req := range q.Requires {
			if _, ok := c.byID[req]; !ok {
				return nil, fmt.Errorf("question %s requires unknown question %s", q.ID, req)
			}
		}
	}
	if cycle := c.findCycle(); cycle != "" {
		return nil, fmt.Errorf("prerequisite cycle involving question %s", cycle)
	}

	return c, nil
}

// findCycle runs a three-color DFS over the prerequisite graph and
// returns the id of a question on a cycle, or "".
func (c *Catalog) findCycle() string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(c.byID))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = grey
		for _, req := range c.byID[id].Requires {
			switch color[req] {
			case grey:
				return req
			case white:
				if found := visit(req); found != "" {
					return found
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, q := range c.questions {
		if color[q.ID] == white {
			if found := visit(q.ID); found != "" {
				return found
			}
		}
	}
	return ""
}

// Question returns the definition for the given id, or nil.
func (c *Catalog) Question(id string) *QuestionDefinition {
	return c.byID[id]
}

// All returns every question definition in catalog order.
func (c *Catalog) All() []QuestionDefinition {
	out := make([]QuestionDefinition, len(c.questions))
	copy(out, c.questions)
	return out
}

// ByDomain returns the questions belonging to the given domain, in
// catalog order.
func (c *Catalog) ByDomain(d Domain) []QuestionDefinition {
	var out []QuestionDefinition
	for _, q := range c.questions {
		if q.Domain == d {
			out = append(out, q)
		}
	}
	return out
}

// Domains returns the distinct domains present in the catalog, sorted.
func (c *Catalog) Domains() []Domain {
	set := make(map[Domain]bool)
	for _, q := range c.questions {
		set[q.Domain] = true
	}
	out := make([]Domain, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of questions in the catalog.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// NextEligible returns the first question in catalog order that is not
// in the answered set and whose prerequisites are all answered. Returns
// nil when every question is answered or blocked.
func (c *Catalog) NextEligible(answered map[string]bool) *QuestionDefinition {
	for i := range c.questions {
		q := &c.questions[i]
		if answered[q.ID] {
			continue
		}
		eligible := true
		for _, req := range q.Requires {
			if !answered[req] {
				eligible = false
				break
			}
		}
		if eligible {
			return q
		}
	}
	return nil
}
