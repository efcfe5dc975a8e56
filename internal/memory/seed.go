package memory

import (
	"context"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/hive/pkg/models"
)

// seedPattern is the YAML shape of one entry in a pattern seed file.
type seedPattern struct {
	Name           string   `yaml:"name"`
	Category       string   `yaml:"category"`
	Problem        string   `yaml:"problem"`
	Solution       string   `yaml:"solution"`
	Implementation string   `yaml:"implementation"`
	Languages      []string `yaml:"languages"`
	Frameworks     []string `yaml:"frameworks"`
	ProjectTypes   []string `yaml:"project_types"`
}

type seedFile struct {
	Patterns []seedPattern `yaml:"patterns"`
}

// LoadSeedFile registers patterns from a YAML file, typically
// .hive/patterns.yaml checked into the project. Patterns whose name is
// already registered are skipped, so reloading on every start is safe.
// Returns the number of patterns added.
func (pl *PatternLibrary) LoadSeedFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seeds seedFile
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	existing, err := pl.List(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, p := range existing {
		known[p.Name] = true
	}

	added := 0
	for i, seed := range seeds.Patterns {
		if seed.Name == "" {
			return added, fmt.Errorf("seed file %s: pattern %d has no name", path, i)
		}
		if known[seed.Name] {
			continue
		}
		p := &models.Pattern{
			Category:       models.PatternCategory(seed.Category),
			Name:           seed.Name,
			Problem:        seed.Problem,
			Solution:       seed.Solution,
			Implementation: seed.Implementation,
			Languages:      seed.Languages,
			Frameworks:     seed.Frameworks,
			ProjectTypes:   seed.ProjectTypes,
		}
		if err := pl.Register(ctx, p); err != nil {
			return added, fmt.Errorf("seed pattern %q: %w", seed.Name, err)
		}
		added++
	}
	return added, nil
}
