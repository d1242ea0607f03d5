package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"attendance-go/config"
	"attendance-go/internal/core/models"
	"attendance-go/internal/gallery"
	"attendance-go/internal/mqtt"
	"attendance-go/internal/recognize"
	"attendance-go/internal/sse"
	"attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Status is the outcome of one attendance attempt.
type Status string

const (
	StatusMarked        Status = "marked"
	StatusAlreadyMarked Status = "already_marked"
	StatusUnknown       Status = "unknown"
	StatusError         Status = "error"
)

// Report is the determinate result of a TakeAttendance call. Every call
// returns one; no failure escapes the service as a panic or raw error.
type Report struct {
	Status     Status  `json:"status"`
	Name       string  `json:"name,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// Service orchestrates the attendance pipeline: probe image in, matcher,
// decision policy, ledger insert, event fan-out.
type Service struct {
	cfg      *config.Config
	db       *gorm.DB
	provider recognize.Provider
	policy   recognize.Policy
	gallery  *gallery.Store
	ledger   *Ledger
	hub      *sse.Hub
	mqtt     *mqtt.Client
}

// NewService wires the attendance pipeline. hub and mqttClient may be nil;
// event fan-out is then skipped.
func NewService(cfg *config.Config, database *gorm.DB, provider recognize.Provider,
	store *gallery.Store, ledger *Ledger, hub *sse.Hub, mqttClient *mqtt.Client) *Service {
	return &Service{
		cfg:      cfg,
		db:       database,
		provider: provider,
		policy:   recognize.Policy{SimilarityFloor: cfg.Recognizer.SimilarityThreshold},
		gallery:  store,
		ledger:   ledger,
		hub:      hub,
		mqtt:     mqttClient,
	}
}

// TakeAttendance matches the probe image against the enrolled gallery and,
// on a first-time match, appends a ledger record. source labels where the
// probe came from (camera, upload) for the audit trail.
func (s *Service) TakeAttendance(ctx context.Context, image []byte, source string) Report {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Recognizer.Timeout())
	defer cancel()

	name, similarity, matchData, err := s.match(ctx, image)
	if err != nil {
		// Matcher failure is fatal for this call only; the ledger stays
		// untouched and the caller may retry.
		log.WithError(err).Error("Face matching failed")
		report := Report{Status: StatusError, Message: err.Error()}
		s.recordProbe(report, source, matchData)
		return report
	}

	if name == "" {
		report := Report{Status: StatusUnknown}
		s.recordProbe(report, source, matchData)
		return report
	}

	record, err := s.ledger.Mark(name, timezone.Now())
	if err != nil {
		if errors.Is(err, ErrAlreadyRecorded) {
			log.Debugf("Attendance for '%s' already recorded at %s", name, record.Time)
			report := Report{Status: StatusAlreadyMarked, Name: name, Similarity: similarity}
			s.recordProbe(report, source, matchData)
			return report
		}
		log.WithError(err).Errorf("Failed to record attendance for '%s'", name)
		report := Report{Status: StatusError, Name: name, Message: err.Error()}
		s.recordProbe(report, source, matchData)
		return report
	}

	log.Infof("Attendance marked for '%s' at %s", name, record.Time)
	report := Report{Status: StatusMarked, Name: name, Similarity: similarity}
	s.recordProbe(report, source, matchData)
	s.notify(report, source, record)
	return report
}

// match runs the configured strategy and applies the decision policy.
// An empty name with a nil error is the Unknown outcome.
func (s *Service) match(ctx context.Context, image []byte) (string, float64, []byte, error) {
	switch s.cfg.Recognizer.Mode {
	case config.ModePairwise:
		return s.matchPairwise(ctx, image)
	default:
		return s.matchGallery(ctx, image)
	}
}

// matchGallery ranks the probe against the backend's whole gallery and
// takes the policy's top pick.
func (s *Service) matchGallery(ctx context.Context, image []byte) (string, float64, []byte, error) {
	matches, err := s.provider.Recognize(ctx, image)
	if err != nil {
		return "", 0, nil, err
	}

	matchData, _ := json.Marshal(matches)

	name, ok := s.policy.Decide(matches)
	if !ok {
		return "", 0, matchData, nil
	}
	return gallery.NormalizeName(name), matches[0].Similarity, matchData, nil
}

// matchPairwise verifies the probe against each enrolled reference in
// gallery enumeration order and stops at the first verified one.
// First-match-wins, not best-match.
func (s *Service) matchPairwise(ctx context.Context, image []byte) (string, float64, []byte, error) {
	refs, err := s.gallery.List()
	if err != nil {
		return "", 0, nil, err
	}

	for _, ref := range refs {
		reference, err := s.gallery.Read(ref)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable reference for '%s'", ref.Name)
			continue
		}

		verification, err := s.provider.Verify(ctx, image, reference)
		if err != nil {
			return "", 0, nil, err
		}

		if s.policy.DecideVerification(verification) {
			matchData, _ := json.Marshal(verification)
			return ref.Name, verification.Similarity, matchData, nil
		}
	}
	return "", 0, nil, nil
}

// RegisterIdentity enrolls a new reference image under name. Re-enrollment
// replaces the previous reference, both on disk and on the backend.
func (s *Service) RegisterIdentity(ctx context.Context, name string, image []byte, filename string) error {
	if err := s.gallery.Enroll(name, image, filepath.Ext(filename)); err != nil {
		return err
	}

	// In gallery mode the backend holds its own copy of the gallery; keep
	// it in step so the next probe can match the new face.
	if s.cfg.Recognizer.Mode == config.ModeGallery && s.cfg.Recognizer.SyncOnEnroll {
		if err := s.provider.RemoveSubject(ctx, name); err != nil {
			log.WithError(err).Warnf("Failed to remove previous backend subject '%s'", name)
		}
		if err := s.provider.AddExample(ctx, name, image, filename); err != nil {
			log.WithError(err).Errorf("Failed to sync identity '%s' to recognition backend", name)
			return err
		}
	}
	return nil
}

// recordProbe appends one row to the probe audit trail. Best-effort: a
// failed audit write never changes the report.
func (s *Service) recordProbe(report Report, source string, matchData []byte) {
	event := models.ProbeEvent{
		Status:     models.ProbeStatus(report.Status),
		Name:       report.Name,
		Similarity: report.Similarity,
		Source:     source,
		MatchData:  matchData,
	}
	if err := s.db.Create(&event).Error; err != nil {
		log.WithError(err).Warn("Failed to record probe event")
	}
}

// notify fans a successful mark out to SSE clients and MQTT.
func (s *Service) notify(report Report, source string, record *models.AttendanceRecord) {
	event := sse.AttendanceEvent{
		Status:     string(report.Status),
		Name:       report.Name,
		Similarity: report.Similarity,
		Source:     source,
		Timestamp:  record.Time,
	}
	if s.hub != nil {
		s.hub.BroadcastAttendance(event)
	}
	if s.mqtt != nil {
		s.mqtt.PublishAttendance(event)
	}
}
