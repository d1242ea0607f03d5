package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity represents an enrolled person, keyed by a unique name.
type Identity struct {
	gorm.Model
	Name     string `gorm:"uniqueIndex;not null"` // Unique, case-sensitive name
	FilePath string `gorm:"not null"`             // Reference image path relative to the gallery dir
}

// AttendanceRecord is one row of the attendance ledger: the first time an
// identity was recognized. The unique index on Name is what enforces the
// at-most-once semantics of the ledger.
type AttendanceRecord struct {
	gorm.Model
	Name string    `gorm:"uniqueIndex;not null"`
	Time time.Time `gorm:"index;not null"`
}

// ProbeStatus classifies the outcome of one attendance attempt.
type ProbeStatus string

const (
	ProbeMarked        ProbeStatus = "marked"
	ProbeAlreadyMarked ProbeStatus = "already_marked"
	ProbeUnknown       ProbeStatus = "unknown"
	ProbeError         ProbeStatus = "error"
)

// ProbeEvent is the audit trail of attendance attempts. One row per probe,
// including unknown and failed ones; pruned by the cleanup service.
type ProbeEvent struct {
	gorm.Model
	Status     ProbeStatus    `gorm:"index;not null"`
	Name       string         `gorm:"index"` // Empty for unknown/error probes
	Similarity float64
	Source     string         `gorm:"index"`          // e.g. 'camera' or 'upload'
	MatchData  datatypes.JSON `gorm:"type:json;null"` // Raw matcher output
}
