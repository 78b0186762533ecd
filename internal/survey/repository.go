// Package survey loads survey definitions for calls.
package survey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// ErrNotFound is returned when no survey exists for an id.
var ErrNotFound = errors.New("survey not found")

// Repository resolves a survey definition by id.
type Repository interface {
	Get(ctx context.Context, surveyID string) (*model.SurveyDefinition, error)
}

// DirRepository reads "<dir>/<id>.json", "<id>.yaml" or "<id>.yml" on every
// lookup, so edited surveys apply to calls started afterwards.
type DirRepository struct {
	dir string
}

// NewDirRepository creates a repository rooted at dir.
func NewDirRepository(dir string) *DirRepository {
	return &DirRepository{dir: dir}
}

// Get loads and validates a survey. The id must already be validated as a
// safe path segment by the caller.
func (r *DirRepository) Get(ctx context.Context, surveyID string) (*model.SurveyDefinition, error) {
	if surveyID == "" || filepath.Base(surveyID) != surveyID {
		return nil, fmt.Errorf("invalid survey id %q: %w", surveyID, ErrNotFound)
	}

	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(r.dir, surveyID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read survey %s: %w", surveyID, err)
		}

		def, err := decode(data, ext)
		if err != nil {
			return nil, fmt.Errorf("failed to parse survey %s: %w", path, err)
		}
		if def.ID == "" {
			def.ID = surveyID
		}
		if def.ID != surveyID {
			return nil, fmt.Errorf("survey file %s declares id %q", path, def.ID)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid survey %s: %w", surveyID, err)
		}
		return def, nil
	}

	return nil, fmt.Errorf("survey %s: %w", surveyID, ErrNotFound)
}

func decode(data []byte, ext string) (*model.SurveyDefinition, error) {
	var def model.SurveyDefinition
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// StaticRepository serves a fixed set of surveys from memory.
type StaticRepository struct {
	mu      sync.RWMutex
	surveys map[string]*model.SurveyDefinition
}

// NewStaticRepository creates a repository holding the given surveys.
func NewStaticRepository(surveys ...*model.SurveyDefinition) *StaticRepository {
	r := &StaticRepository{surveys: make(map[string]*model.SurveyDefinition)}
	for _, s := range surveys {
		r.surveys[s.ID] = s.Clone()
	}
	return r
}

// Get returns a copy of the survey.
func (r *StaticRepository) Get(ctx context.Context, surveyID string) (*model.SurveyDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.surveys[surveyID]
	if !ok {
		return nil, fmt.Errorf("survey %s: %w", surveyID, ErrNotFound)
	}
	return s.Clone(), nil
}

// Put adds or replaces a survey.
func (r *StaticRepository) Put(s *model.SurveyDefinition) {
	r.mu.Lock()
	r.surveys[s.ID] = s.Clone()
	r.mu.Unlock()
}
