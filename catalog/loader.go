package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML shape of a catalog file. A file may
// hold any number of question definitions; files are merged in sorted
// path order so loading is deterministic.
type catalogFile struct {
	Questions []QuestionDefinition `yaml:"questions"`
}

// Load reads question definitions from every file matching the given
// glob patterns (doublestar syntax, e.g. "ens/**/*.yaml") and builds a
// validated catalog. When no patterns are given the embedded default
// catalog is returned.
func Load(patterns ...string) (*Catalog, error) {
	if len(patterns) == 0 {
		return New(defaultQuestions())
	}

	var paths []string
	for _, pattern := range patterns {
		base, pat := doublestar.SplitPattern(pattern)
		matches, err := doublestar.Glob(os.DirFS(base), pat)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			paths = append(paths, filepath.Join(base, m))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files match %v", patterns)
	}
	sort.Strings(paths)

	var questions []QuestionDefinition
	for _, path := range paths {
		qs, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		questions = append(questions, qs...)
	}

	return New(questions)
}

func loadFile(path string) ([]QuestionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	return cf.Questions, nil
}

// defaultQuestions is the built-in ENS catalog used when no catalog
// path is configured. It covers the core Backups, AccessControl and
// Monitoring domains.
func defaultQuestions() []QuestionDefinition {
	return []QuestionDefinition{
		{
			ID:     "backups_frequency",
			Domain: DomainBackups,
			Prompt: "¿Con qué frecuencia se realizan copias de seguridad y cómo se verifican?",
			Fields: []RequiredField{
				{Name: "frequency", Description: "How often backups run (daily, weekly, ...)", Format: "frequency"},
				{Name: "verification", Description: "How backup integrity is verified"},
				{Name: "offsite", Description: "Whether copies are stored off-site", Format: "boolean"},
			},
		},
		{
			ID:     "backups_retention",
			Domain: DomainBackups,
			Prompt: "¿Cuál es la política de retención de las copias de seguridad?",
			Fields: []RequiredField{
				{Name: "retention_period", Description: "How long backups are kept"},
				{Name: "disposal", Description: "How expired backups are disposed of"},
			},
			Requires: []string{"backups_frequency"},
		},
		{
			ID:     "access_review",
			Domain: DomainAccessControl,
			Prompt: "¿Cómo se revisan y revocan los permisos de acceso de los usuarios?",
			Fields: []RequiredField{
				{Name: "review_cadence", Description: "How often access rights are reviewed", Format: "frequency"},
				{Name: "revocation_process", Description: "Process for revoking access on departure"},
				{Name: "privileged_accounts", Description: "How privileged accounts are controlled"},
			},
		},
		{
			ID:     "access_authentication",
			Domain: DomainAccessControl,
			Prompt: "¿Qué mecanismos de autenticación se exigen a los usuarios?",
			Fields: []RequiredField{
				{Name: "mfa", Description: "Whether multi-factor authentication is enforced", Format: "boolean"},
				{Name: "password_policy", Description: "Password length and rotation requirements"},
			},
		},
		{
			ID:     "monitoring_logging",
			Domain: DomainMonitoring,
			Prompt: "¿Qué actividad se registra y durante cuánto tiempo se conservan los registros?",
			Fields: []RequiredField{
				{Name: "scope", Description: "Which systems and events are logged"},
				{Name: "retention", Description: "How long logs are retained"},
				{Name: "review", Description: "How and how often logs are reviewed", Format: "frequency"},
			},
		},
	}
}
