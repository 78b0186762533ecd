package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// FileStore keeps one JSON array file per survey under a directory.
type FileStore struct {
	dir   string
	locks *keyedMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("response directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create response directory: %w", err)
	}
	return &FileStore{dir: dir, locks: newKeyedMutex()}, nil
}

// Append reads the survey's records, appends rec and atomically replaces the
// file. Appends for the same survey are serialized.
func (s *FileStore) Append(ctx context.Context, rec *model.SurveyResponseRecord) error {
	if rec == nil || rec.SurveyID == "" {
		return errors.New("response record requires a survey id")
	}

	release := s.locks.Lock(rec.SurveyID)
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := s.read(rec.SurveyID)
	if err != nil {
		return err
	}
	records = append(records, *rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode responses: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, rec.SurveyID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write responses: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write responses: %w", err)
	}
	if err := os.Rename(tmpName, s.path(rec.SurveyID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace responses: %w", err)
	}
	return nil
}

// List returns the survey's records.
func (s *FileStore) List(ctx context.Context, surveyID string) ([]model.SurveyResponseRecord, error) {
	release := s.locks.Lock(surveyID)
	defer release()
	return s.read(surveyID)
}

func (s *FileStore) read(surveyID string) ([]model.SurveyResponseRecord, error) {
	data, err := os.ReadFile(s.path(surveyID))
	if errors.Is(err, os.ErrNotExist) {
		return []model.SurveyResponseRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read responses: %w", err)
	}
	if len(data) == 0 {
		return []model.SurveyResponseRecord{}, nil
	}

	var records []model.SurveyResponseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt response file for survey %s: %w", surveyID, err)
	}
	return records, nil
}

func (s *FileStore) path(surveyID string) string {
	return filepath.Join(s.dir, surveyID+".json")
}
