package gallery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"attendance-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidName is returned when an identity name is empty or contains
	// path-unsafe characters.
	ErrInvalidName = errors.New("invalid identity name")
	// ErrNotFound is returned when no reference exists for the given name.
	ErrNotFound = errors.New("identity not found")
)

// imageExtensions are the reference file types the store enumerates.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Reference is one enrolled reference image.
type Reference struct {
	Name string // Identity name derived from the file name
	Path string // Absolute path of the reference image
}

// Store keeps one reference face image per identity in a directory,
// mirrored by an Identity row in the database. The directory is the source
// of truth for enumeration, matching the layout the recognizer backend and
// the pairwise scan both consume.
type Store struct {
	dir string
	db  *gorm.DB
	mu  sync.Mutex
}

// NewStore opens (and creates if needed) the gallery directory.
func NewStore(dir string, database *gorm.DB) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create gallery directory: %w", err)
	}
	return &Store{dir: dir, db: database}, nil
}

// Dir returns the gallery directory.
func (s *Store) Dir() string {
	return s.dir
}

// NormalizeName derives the canonical identity name from a reference image
// path: base name without directory and extension.
func NormalizeName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// validName rejects names that are empty or would escape the gallery
// directory when used as a file name.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// Enroll stores image as the reference for name, replacing any previous
// reference. ext selects the stored file type (".jpg" when empty).
func (s *Store) Enroll(name string, image []byte, ext string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(image) == 0 {
		return fmt.Errorf("%w: empty image for %q", ErrInvalidName, name)
	}

	ext = strings.ToLower(ext)
	if !imageExtensions[ext] {
		ext = ".jpg"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// One reference per identity: drop any prior file first so a
	// re-enrollment with a different extension cannot leave two behind.
	if err := s.removeReferences(name); err != nil {
		return err
	}

	fileName := name + ext
	path := filepath.Join(s.dir, fileName)
	if err := os.WriteFile(path, image, 0644); err != nil {
		return fmt.Errorf("failed to write reference image: %w", err)
	}

	identity := models.Identity{Name: name, FilePath: fileName}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_path", "updated_at"}),
	}).Create(&identity).Error; err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}

	log.Infof("Enrolled reference image for identity '%s' (%s)", name, fileName)
	return nil
}

// removeReferences deletes all stored files for name. Caller holds s.mu.
func (s *Store) removeReferences(name string) error {
	for ext := range imageExtensions {
		path := filepath.Join(s.dir, name+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove previous reference: %w", err)
		}
	}
	return nil
}

// List enumerates all references in directory order. The order is
// deterministic within a run but callers must not rely on it being
// alphabetical or stable across enrollments.
func (s *Store) List() ([]Reference, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gallery directory: %w", err)
	}

	var refs []Reference
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		refs = append(refs, Reference{
			Name: NormalizeName(entry.Name()),
			Path: filepath.Join(s.dir, entry.Name()),
		})
	}
	return refs, nil
}

// Get returns the reference for name.
func (s *Store) Get(name string) (Reference, error) {
	if !validName(name) {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for ext := range imageExtensions {
		path := filepath.Join(s.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return Reference{Name: name, Path: path}, nil
		}
	}
	return Reference{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Read loads the reference image bytes.
func (s *Store) Read(ref Reference) ([]byte, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference image: %w", err)
	}
	return data, nil
}

// Identities returns the enrolled identities from the database, most
// recently enrolled first.
func (s *Store) Identities() ([]models.Identity, error) {
	var identities []models.Identity
	if err := s.db.Order("created_at DESC").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("failed to load identities: %w", err)
	}
	return identities, nil
}
