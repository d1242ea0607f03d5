package gallery

import (
	"path/filepath"
	"testing"

	"attendance-go/internal/core/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(&models.Identity{}))

	store, err := NewStore(t.TempDir(), database)
	require.NoError(t, err)
	return store
}

func TestEnrollAndGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Enroll("Alice", []byte("image-data"), ".jpg"))

	ref, err := store.Get("Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", ref.Name)

	data, err := store.Read(ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-data"), data)
}

func TestEnroll_OverwriteLeavesSingleReference(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Enroll("Bob", []byte("first"), ".png"))
	require.NoError(t, store.Enroll("Bob", []byte("second"), ".jpg"))

	refs, err := store.List()
	require.NoError(t, err)
	require.Len(t, refs, 1)

	data, err := store.Read(refs[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	identities, err := store.Identities()
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "Bob.jpg", identities[0].FilePath)
}

func TestEnroll_RejectsPathUnsafeNames(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		err := store.Enroll(name, []byte("img"), ".jpg")
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("Nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_SkipsNonImageFiles(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Enroll("Alice", []byte("a"), ".jpg"))
	require.NoError(t, store.Enroll("Bob", []byte("b"), ".png"))

	refs, err := store.List()
	require.NoError(t, err)
	require.Len(t, refs, 2)

	names := []string{refs[0].Name, refs[1].Name}
	assert.Contains(t, names, "Alice")
	assert.Contains(t, names, "Bob")
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Alice", NormalizeName("Alice.jpg"))
	assert.Equal(t, "Alice", NormalizeName("/data/known_faces/Alice.png"))
	assert.Equal(t, "Alice Smith", NormalizeName("Alice Smith.jpeg"))
	assert.Equal(t, "Bob", NormalizeName("Bob"))
}
