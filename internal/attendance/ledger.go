package attendance

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-go/internal/core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyRecorded is returned by Mark when the identity already has a
// ledger row. It is the expected steady state once someone has been marked,
// not an error condition to alarm on.
var ErrAlreadyRecorded = errors.New("attendance already recorded")

// timeLayout is the ledger's exported timestamp format.
const timeLayout = "2006-01-02 15:04:05"

// Ledger is the persistent, deduplicated attendance record store. All
// mutations serialize through one critical section, and the uniqueness
// check is re-taken inside it via a conditional insert against the unique
// name index, so concurrent marks of the same identity cannot both succeed.
type Ledger struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewLedger creates a ledger on top of the migrated database. The table is
// created (empty, if absent) by the schema migrations at startup.
func NewLedger(database *gorm.DB) *Ledger {
	return &Ledger{db: database}
}

// Contains reports whether name already has a ledger row.
func (l *Ledger) Contains(name string) (bool, error) {
	var count int64
	if err := l.db.Model(&models.AttendanceRecord{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return count > 0, nil
}

// Mark inserts a record for name with the given timestamp, but only if none
// exists yet. The insert-if-absent runs as a single statement keyed on the
// unique name index; a lost race or an existing row both surface as
// ErrAlreadyRecorded with the original record.
func (l *Ledger) Mark(name string, t time.Time) (*models.AttendanceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := models.AttendanceRecord{Name: name, Time: t}
	result := l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to insert attendance record: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var existing models.AttendanceRecord
		if err := l.db.Where("name = ?", name).First(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to load existing attendance record: %w", err)
		}
		return &existing, ErrAlreadyRecorded
	}

	return &record, nil
}

// Records returns all ledger rows in insertion order.
func (l *Ledger) Records() ([]models.AttendanceRecord, error) {
	var records []models.AttendanceRecord
	if err := l.db.Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load attendance records: %w", err)
	}
	return records, nil
}

// ExportCSV transcodes the current ledger state into a downloadable CSV
// with the columns Name,Time. The export is a pure read; it never mutates
// the ledger.
func (l *Ledger) ExportCSV() ([]byte, error) {
	records, err := l.Records()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Name", "Time"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, record := range records {
		if err := w.Write([]string{record.Name, record.Time.Format(timeLayout)}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
