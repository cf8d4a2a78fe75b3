package checkpoint

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/shufflegate/pkg/persist"
)

// ErrInvalidRecord is returned when the checkpoint file exists but does not
// hold a valid record. The file is left untouched.
var ErrInvalidRecord = errors.New("invalid checkpoint record")

//go:embed schema.json
var recordSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(recordSchema)

// Store loads and saves the checkpoint record at a fixed path.
// It assumes a single writer; saves replace the file atomically.
type Store struct {
	persister *persist.Persister[Record]
}

// NewStore creates a store for the record file at path.
func NewStore(path string) *Store {
	return &Store{
		persister: persist.NewPersister[Record](path, persist.NewJSONCodec()),
	}
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.persister.Path()
}

// Exists reports whether the record file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())

	return err == nil
}

// Load reads the record. found is false when no record file exists yet.
func (s *Store) Load() (Record, bool, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}

		return Record{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	validateErr := validate(data)
	if validateErr != nil {
		return Record{}, true, fmt.Errorf("%w: %s: %w", ErrInvalidRecord, s.Path(), validateErr)
	}

	loaded, err := s.persister.Load()
	if err != nil {
		return Record{}, true, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	return *loaded, true, nil
}

// LoadOrDefault returns the stored record, or the default built from the
// current iteration when no record exists.
func (s *Store) LoadOrDefault(usableRows, desiredWindow, minNewRows int64, deferFirst bool) (Record, bool, error) {
	rec, found, err := s.Load()
	if err != nil {
		return Record{}, found, err
	}

	if !found {
		return Default(usableRows, desiredWindow, minNewRows, deferFirst), false, nil
	}

	return rec, true, nil
}

// Save atomically replaces the record file.
func (s *Store) Save(rec Record) error {
	err := s.persister.Save(&rec)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return nil
}

func validate(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, verr.String())
	}

	return errors.New(strings.Join(msgs, "; "))
}
