// Package seed loads maintenance rules from YAML files and upserts
// them into the rule store by name, optionally re-seeding when the
// file changes on disk.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"custodian-hq/custodian/pkg/rules"
	"custodian-hq/custodian/pkg/rules/store"
	"custodian-hq/custodian/pkg/rules/validator"
)

// seedFile is the YAML document shape.
type seedFile struct {
	Rules []rules.Rule `yaml:"rules"`
}

// Load parses and validates the seed rules at path, which may be a
// single YAML file or a directory of them.
func Load(path string) ([]*rules.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat seed path %q: %w", path, err)
	}
	if !info.IsDir() {
		return LoadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed directory %q: %w", path, err)
	}

	var out []*rules.Rule
	for _, entry := range entries {
		if entry.IsDir() || !yamlFile(entry.Name()) {
			continue
		}
		loaded, err := LoadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, loaded...)
	}
	return out, nil
}

func yamlFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile parses and validates a rule seed file. Invalid rules fail
// the whole load so a typo cannot silently drop a rule.
func LoadFile(path string) ([]*rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %q: %w", path, err)
	}

	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %q: %w", path, err)
	}

	out := make([]*rules.Rule, 0, len(doc.Rules))
	for i := range doc.Rules {
		rule := doc.Rules[i]
		if err := validator.Validate(&rule); err != nil {
			return nil, fmt.Errorf("seed file %q, rule %q: %w", path, rule.Name, err)
		}
		out = append(out, &rule)
	}
	return out, nil
}

// Seeder upserts seed rules into a store.
type Seeder struct {
	store  store.Store
	logger *slog.Logger
}

// NewSeeder creates a seeder over the rule store.
func NewSeeder(s store.Store, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		store:  s,
		logger: logger.With("component", "seed"),
	}
}

// Apply upserts every rule from the seed file or directory, matching
// by name. Existing rules keep their ID, creation time, and trigger
// history; unknown names become new rules.
func (s *Seeder) Apply(ctx context.Context, path string) (created, updated int, err error) {
	seeds, err := Load(path)
	if err != nil {
		return 0, 0, err
	}

	for _, seed := range seeds {
		existing, err := s.store.GetByName(ctx, seed.Name)
		var notFound *store.NotFoundError
		switch {
		case errors.As(err, &notFound):
			if seed.ID == "" {
				seed.ID = uuid.NewString()
			}
			if err := s.store.Create(ctx, seed); err != nil {
				return created, updated, err
			}
			created++
		case err != nil:
			return created, updated, err
		default:
			seed.ID = existing.ID
			if err := s.store.Update(ctx, seed); err != nil {
				return created, updated, err
			}
			updated++
		}
	}

	s.logger.Info("rule seed applied", "path", path, "created", created, "updated", updated)
	return created, updated, nil
}
