package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenStageCore/internal/types"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

var profileExtensions = []string{".json", ".yaml", ".yml"}

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

type loadedProfile struct {
	def  *types.StageProfileDefinition
	path string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load returns the profile with the given id. The first search path holding
// <id>.json, <id>.yaml or <id>.yml wins.
func (l *ProfileLoader) Load(id string) (*types.StageProfileDefinition, error) {
	p, err := l.load(id)
	if err != nil {
		return nil, err
	}
	return p.def, nil
}

func (l *ProfileLoader) load(id string) (*loadedProfile, error) {
	if cached, ok := l.cache.Load(id); ok {
		return cached.(*loadedProfile), nil
	}

	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid profile id %q", id)
	}

	for _, searchPath := range l.searchPaths {
		for _, ext := range profileExtensions {
			fullPath := filepath.Join(searchPath, id+ext)
			data, err := os.ReadFile(fullPath)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fullPath, err)
			}

			def, err := l.parse(fullPath, data)
			if err != nil {
				return nil, err
			}
			if def.StageProfile.ID != id {
				return nil, fmt.Errorf("%s: profile id %q does not match file name", fullPath, def.StageProfile.ID)
			}

			p := &loadedProfile{def: def, path: fullPath}
			l.cache.Store(id, p)
			return p, nil
		}
	}

	return nil, fmt.Errorf("profile %s not found (searched in: %v): %w", id, l.searchPaths, fs.ErrNotExist)
}

func (l *ProfileLoader) parse(path string, data []byte) (*types.StageProfileDefinition, error) {
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		// the schema and the struct decoder both work on JSON
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
		data = converted
	}

	profile, err := l.validator.ValidateProfile(data)
	if err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", path, err)
	}
	return profile, nil
}

// List returns every valid profile on the search paths. Files that fail to
// load are skipped and reported in the returned error.
func (l *ProfileLoader) List() ([]types.ProfileSummary, error) {
	var errs error
	seen := make(map[string]bool)
	summaries := make([]types.ProfileSummary, 0)

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		for _, entry := range entries {
			ext := filepath.Ext(entry.Name())
			if entry.IsDir() || !isProfileExt(ext) {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ext)
			if seen[id] {
				continue
			}
			seen[id] = true

			p, err := l.load(id)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}

			axes := p.def.Axes
			if len(axes) == 0 {
				axes = []string{"x", "y", "z"}
			}
			summaries = append(summaries, types.ProfileSummary{
				ID:          p.def.StageProfile.ID,
				Vendor:      p.def.StageProfile.Vendor,
				Model:       p.def.StageProfile.Model,
				Description: p.def.StageProfile.Description,
				DriverType:  p.def.Driver.Type,
				Axes:        axes,
				Path:        p.path,
			})
		}
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, errs
}

func isProfileExt(ext string) bool {
	for _, e := range profileExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
