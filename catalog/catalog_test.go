package catalog

import (
	"testing"
)

func defs() []QuestionDefinition {
	return []QuestionDefinition{
		{
			ID:     "backups_frequency",
			Domain: DomainBackups,
			Prompt: "backup frequency?",
			Fields: []RequiredField{
				{Name: "frequency", Format: "frequency"},
				{Name: "verification"},
				{Name: "offsite", Format: "boolean"},
			},
		},
		{
			ID:       "backups_retention",
			Domain:   DomainBackups,
			Prompt:   "retention?",
			Fields:   []RequiredField{{Name: "retention_period"}},
			Requires: []string{"backups_frequency"},
		},
		{
			ID:     "access_review",
			Domain: DomainAccessControl,
			Prompt: "access review?",
			Fields: []RequiredField{{Name: "review_cadence"}},
		},
	}
}

func TestNewValidCatalog(t *testing.T) {
	c, err := New(defs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 questions, got %d", c.Len())
	}
	if q := c.Question("backups_frequency"); q == nil || q.Domain != DomainBackups {
		t.Errorf("lookup by id failed: %+v", q)
	}
	if q := c.Question("nope"); q != nil {
		t.Errorf("expected nil for unknown id, got %+v", q)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func([]QuestionDefinition) []QuestionDefinition
	}{
		{
			name: "duplicate id",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[1].ID = qs[0].ID
				return qs
			},
		},
		{
			name: "missing id",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[0].ID = ""
				return qs
			},
		},
		{
			name: "missing domain",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[0].Domain = ""
				return qs
			},
		},
		{
			name: "no fields",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[0].Fields = nil
				return qs
			},
		},
		{
			name: "duplicate field",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[0].Fields = append(qs[0].Fields, RequiredField{Name: "frequency"})
				return qs
			},
		},
		{
			name: "unknown prerequisite",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[1].Requires = []string{"missing_question"}
				return qs
			},
		},
		{
			name: "prerequisite cycle",
			modify: func(qs []QuestionDefinition) []QuestionDefinition {
				qs[0].Requires = []string{"backups_retention"}
				return qs
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.modify(defs())); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestByDomainAndDomains(t *testing.T) {
	c, err := New(defs())
	if err != nil {
		t.Fatal(err)
	}

	backups := c.ByDomain(DomainBackups)
	if len(backups) != 2 {
		t.Errorf("expected 2 Backups questions, got %d", len(backups))
	}

	domains := c.Domains()
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %v", domains)
	}
	// Sorted order: AccessControl < Backups
	if domains[0] != DomainAccessControl || domains[1] != DomainBackups {
		t.Errorf("unexpected domain order: %v", domains)
	}
}

func TestNextEligible(t *testing.T) {
	c, err := New(defs())
	if err != nil {
		t.Fatal(err)
	}

	// Nothing answered: first question in catalog order.
	q := c.NextEligible(map[string]bool{})
	if q == nil || q.ID != "backups_frequency" {
		t.Fatalf("expected backups_frequency, got %+v", q)
	}

	// First answered: retention becomes eligible before access_review
	// because it comes first in catalog order.
	q = c.NextEligible(map[string]bool{"backups_frequency": true})
	if q == nil || q.ID != "backups_retention" {
		t.Fatalf("expected backups_retention, got %+v", q)
	}

	// All answered: nil.
	q = c.NextEligible(map[string]bool{
		"backups_frequency": true,
		"backups_retention": true,
		"access_review":     true,
	})
	if q != nil {
		t.Errorf("expected nil, got %+v", q)
	}
}

func TestPrerequisiteBlocksEligibility(t *testing.T) {
	qs := defs()
	// Make retention the only unanswered question; it requires
	// backups_frequency which is not answered either.
	c, err := New(qs)
	if err != nil {
		t.Fatal(err)
	}

	q := c.NextEligible(map[string]bool{"access_review": true})
	if q == nil || q.ID != "backups_frequency" {
		t.Fatalf("expected prerequisite question first, got %+v", q)
	}
}

func TestFieldLookup(t *testing.T) {
	c, _ := New(defs())
	q := c.Question("backups_frequency")

	if f := q.Field("offsite"); f == nil || f.Format != "boolean" {
		t.Errorf("field lookup failed: %+v", f)
	}
	if f := q.Field("unknown"); f != nil {
		t.Errorf("expected nil for unknown field, got %+v", f)
	}
}
