package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"attendance-go/config"
	"attendance-go/internal/attendance"
	"attendance-go/internal/core/models"
	"attendance-go/internal/gallery"
	"attendance-go/internal/recognize"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubProvider answers every recognition call with a fixed result.
type stubProvider struct {
	matches []recognize.Match
	err     error
}

func (s *stubProvider) IsAvailable(context.Context) bool { return s.err == nil }

func (s *stubProvider) Recognize(context.Context, []byte) ([]recognize.Match, error) {
	return s.matches, s.err
}

func (s *stubProvider) Verify(context.Context, []byte, []byte) (recognize.Verification, error) {
	return recognize.Verification{}, s.err
}

func (s *stubProvider) AddExample(context.Context, string, []byte, string) error { return nil }
func (s *stubProvider) RemoveSubject(context.Context, string) error              { return nil }

func newTestRouter(t *testing.T, provider recognize.Provider) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(
		&models.Identity{},
		&models.AttendanceRecord{},
		&models.ProbeEvent{},
	))

	store, err := gallery.NewStore(t.TempDir(), database)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Recognizer.Mode = config.ModeGallery
	cfg.Recognizer.TimeoutSeconds = 5

	ledger := attendance.NewLedger(database)
	service := attendance.NewService(cfg, database, provider, store, ledger, nil, nil)

	router := gin.New()
	NewAPIHandler(cfg, service, ledger, store, nil, nil).RegisterRoutes(router)
	return router, database
}

func uploadRequest(t *testing.T, url, field, filename string, contents []byte, extra map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(contents)
	require.NoError(t, err)
	for key, value := range extra {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestMarkFromUpload(t *testing.T) {
	provider := &stubProvider{matches: []recognize.Match{{Subject: "Alice.jpg", Similarity: 0.97}}}
	router, _ := newTestRouter(t, provider)

	perform := func() (*httptest.ResponseRecorder, attendance.Report) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, uploadRequest(t, "/api/attendance/upload", "file", "probe.jpg", []byte("jpeg"), nil))
		var report attendance.Report
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		return w, report
	}

	w, report := perform()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.StatusMarked, report.Status)
	assert.Equal(t, "Alice", report.Name)

	w, report = perform()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.StatusAlreadyMarked, report.Status)
}

func TestMarkFromUpload_NoFile(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/attendance/upload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkFromUpload_BackendDown(t *testing.T) {
	router, database := newTestRouter(t, &stubProvider{err: recognize.ErrUnavailable})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "/api/attendance/upload", "file", "probe.jpg", []byte("jpeg"), nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var count int64
	require.NoError(t, database.Model(&models.AttendanceRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMarkFromCamera_Disabled(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/attendance/camera", nil))
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestListAndExportAttendance(t *testing.T) {
	provider := &stubProvider{matches: []recognize.Match{{Subject: "Alice.jpg", Similarity: 0.97}}}
	router, _ := newTestRouter(t, provider)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "/api/attendance/upload", "file", "probe.jpg", []byte("jpeg"), nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/attendance", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Count   int                       `json:"count"`
		Records []models.AttendanceRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, "Alice", listing.Records[0].Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/attendance/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance.csv")
	assert.Contains(t, w.Body.String(), "Name,Time")
	assert.Contains(t, w.Body.String(), "Alice")
}

func TestRegisterIdentity(t *testing.T) {
	router, database := newTestRouter(t, &stubProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "/api/identities", "image", "alice.jpg", []byte("jpeg"),
		map[string]string{"name": "Alice"}))
	require.Equal(t, http.StatusOK, w.Code)

	var identities []models.Identity
	require.NoError(t, database.Find(&identities).Error)
	require.Len(t, identities, 1)
	assert.Equal(t, "Alice", identities[0].Name)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/identities", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Alice")
}

func TestRegisterIdentity_InvalidName(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "/api/identities", "image", "evil.jpg", []byte("jpeg"),
		map[string]string{"name": "../evil"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
