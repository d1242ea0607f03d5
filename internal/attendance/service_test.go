package attendance

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"attendance-go/config"
	"attendance-go/internal/core/models"
	"attendance-go/internal/gallery"
	"attendance-go/internal/recognize"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeProvider is a scriptable recognition backend.
type fakeProvider struct {
	mu          sync.Mutex
	matches     []recognize.Match
	err         error
	verified    map[string]recognize.Verification // keyed by reference contents
	verifyErr   error
	verifyCalls int
	examples    map[string][]byte
}

func (f *fakeProvider) IsAvailable(context.Context) bool { return f.err == nil }

func (f *fakeProvider) Recognize(context.Context, []byte) ([]recognize.Match, error) {
	return f.matches, f.err
}

func (f *fakeProvider) Verify(_ context.Context, _ []byte, reference []byte) (recognize.Verification, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.verifyErr != nil {
		return recognize.Verification{}, f.verifyErr
	}
	return f.verified[string(reference)], nil
}

func (f *fakeProvider) AddExample(_ context.Context, subject string, image []byte, _ string) error {
	if f.examples == nil {
		f.examples = make(map[string][]byte)
	}
	f.examples[subject] = image
	return nil
}

func (f *fakeProvider) RemoveSubject(_ context.Context, subject string) error {
	delete(f.examples, subject)
	return nil
}

func newTestService(t *testing.T, provider recognize.Provider, mode config.MatchMode) (*Service, *gorm.DB, *gallery.Store) {
	t.Helper()

	database := newTestDB(t)
	store, err := gallery.NewStore(t.TempDir(), database)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Recognizer.Mode = mode
	cfg.Recognizer.TimeoutSeconds = 5
	cfg.Recognizer.SyncOnEnroll = true

	service := NewService(cfg, database, provider, store, NewLedger(database), nil, nil)
	return service, database, store
}

func probeEvents(t *testing.T, database *gorm.DB) []models.ProbeEvent {
	t.Helper()
	var events []models.ProbeEvent
	require.NoError(t, database.Order("id ASC").Find(&events).Error)
	return events
}

func TestTakeAttendance_MarksThenAlreadyMarked(t *testing.T) {
	provider := &fakeProvider{matches: []recognize.Match{{Subject: "Alice.jpg", Similarity: 0.96}}}
	service, database, _ := newTestService(t, provider, config.ModeGallery)

	report := service.TakeAttendance(context.Background(), []byte("frame-1"), "camera")
	assert.Equal(t, StatusMarked, report.Status)
	assert.Equal(t, "Alice", report.Name)

	// A second frame of the same person is the expected steady state.
	report = service.TakeAttendance(context.Background(), []byte("frame-2"), "camera")
	assert.Equal(t, StatusAlreadyMarked, report.Status)
	assert.Equal(t, "Alice", report.Name)

	var count int64
	require.NoError(t, database.Model(&models.AttendanceRecord{}).Where("name = ?", "Alice").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTakeAttendance_UnknownLeavesNoTrace(t *testing.T) {
	provider := &fakeProvider{} // no matches: unenrolled visitor or no face
	service, database, _ := newTestService(t, provider, config.ModeGallery)

	report := service.TakeAttendance(context.Background(), []byte("stranger"), "upload")
	assert.Equal(t, StatusUnknown, report.Status)
	assert.Empty(t, report.Name)

	var count int64
	require.NoError(t, database.Model(&models.AttendanceRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTakeAttendance_OracleFailureIsErrorNotCrash(t *testing.T) {
	provider := &fakeProvider{err: recognize.ErrUnavailable}
	service, database, _ := newTestService(t, provider, config.ModeGallery)

	report := service.TakeAttendance(context.Background(), []byte("frame"), "camera")
	assert.Equal(t, StatusError, report.Status)
	assert.NotEmpty(t, report.Message)

	// A failed call must not leave a partial ledger write behind.
	var count int64
	require.NoError(t, database.Model(&models.AttendanceRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTakeAttendance_AtMostOnceUnderConcurrency(t *testing.T) {
	provider := &fakeProvider{matches: []recognize.Match{{Subject: "Alice.jpg", Similarity: 0.96}}}
	service, database, _ := newTestService(t, provider, config.ModeGallery)

	const attempts = 10
	var wg sync.WaitGroup
	reports := make(chan Report, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports <- service.TakeAttendance(context.Background(), []byte("frame"), "camera")
		}()
	}
	wg.Wait()
	close(reports)

	var marked, already int
	for report := range reports {
		switch report.Status {
		case StatusMarked:
			marked++
		case StatusAlreadyMarked:
			already++
		default:
			t.Fatalf("unexpected status %q", report.Status)
		}
	}

	assert.Equal(t, 1, marked)
	assert.Equal(t, attempts-1, already)

	var count int64
	require.NoError(t, database.Model(&models.AttendanceRecord{}).Where("name = ?", "Alice").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestTakeAttendance_PairwiseFirstMatchWins(t *testing.T) {
	provider := &fakeProvider{verified: map[string]recognize.Verification{
		"alice-img": {Verified: true, Similarity: 0.91},
		"bob-img":   {Verified: true, Similarity: 0.99},
	}}
	service, _, store := newTestService(t, provider, config.ModePairwise)

	require.NoError(t, store.Enroll("Alice", []byte("alice-img"), ".jpg"))
	require.NoError(t, store.Enroll("Bob", []byte("bob-img"), ".jpg"))

	report := service.TakeAttendance(context.Background(), []byte("frame"), "camera")
	assert.Equal(t, StatusMarked, report.Status)
	// First reference in enumeration order wins even though Bob ranks
	// higher; the scan stops there.
	assert.Equal(t, "Alice", report.Name)
	assert.Equal(t, 1, provider.verifyCalls)
}

func TestTakeAttendance_PairwiseNoVerificationIsUnknown(t *testing.T) {
	provider := &fakeProvider{verified: map[string]recognize.Verification{}}
	service, _, store := newTestService(t, provider, config.ModePairwise)

	require.NoError(t, store.Enroll("Alice", []byte("alice-img"), ".jpg"))

	report := service.TakeAttendance(context.Background(), []byte("stranger"), "upload")
	assert.Equal(t, StatusUnknown, report.Status)
	assert.Equal(t, 1, provider.verifyCalls)
}

func TestTakeAttendance_RecordsProbeEvents(t *testing.T) {
	provider := &fakeProvider{matches: []recognize.Match{{Subject: "Alice.jpg", Similarity: 0.96}}}
	service, database, _ := newTestService(t, provider, config.ModeGallery)

	service.TakeAttendance(context.Background(), []byte("frame-1"), "camera")
	provider.matches = nil
	service.TakeAttendance(context.Background(), []byte("frame-2"), "upload")

	events := probeEvents(t, database)
	require.Len(t, events, 2)
	assert.Equal(t, models.ProbeMarked, events[0].Status)
	assert.Equal(t, "Alice", events[0].Name)
	assert.Equal(t, "camera", events[0].Source)
	assert.Equal(t, models.ProbeUnknown, events[1].Status)
}

func TestRegisterIdentity_SyncsBackendGallery(t *testing.T) {
	provider := &fakeProvider{}
	service, _, store := newTestService(t, provider, config.ModeGallery)

	require.NoError(t, service.RegisterIdentity(context.Background(), "Alice", []byte("img-1"), "alice.jpg"))
	require.NoError(t, service.RegisterIdentity(context.Background(), "Alice", []byte("img-2"), "alice.png"))

	// One reference locally and one example on the backend, both the
	// latest image.
	refs, err := store.List()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, []byte("img-2"), provider.examples["Alice"])
}

func TestRegisterIdentity_InvalidName(t *testing.T) {
	provider := &fakeProvider{}
	service, _, _ := newTestService(t, provider, config.ModeGallery)

	err := service.RegisterIdentity(context.Background(), "../evil", []byte("img"), "evil.jpg")
	require.ErrorIs(t, err, gallery.ErrInvalidName)
}

func TestReportSerialization(t *testing.T) {
	// Unknown probes carry no name; the field must be omitted, not empty.
	data, err := json.Marshal(Report{Status: StatusUnknown})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "name")
}
