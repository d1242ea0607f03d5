package recognize

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the recognition backend could not be reached or
// failed to execute. It is fatal for the current call only; a probe in
// which the backend simply finds no face is NOT an error and yields an
// empty result instead.
var ErrUnavailable = errors.New("recognizer unavailable")

// Match is one ranked gallery-search candidate for a probe image.
type Match struct {
	Subject    string  `json:"subject"`
	Similarity float64 `json:"similarity"`
}

// Verification is the outcome of comparing a probe against one reference.
type Verification struct {
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
}

// Provider is the face comparison backend. Implementations must treat
// "no face detected" as an empty result, never as an error.
type Provider interface {
	// IsAvailable reports whether the backend is reachable.
	IsAvailable(ctx context.Context) bool

	// Recognize searches the backend's gallery for the probe image and
	// returns candidates ranked by similarity, best first. An empty slice
	// means no face was detected or nothing cleared the detection gate.
	Recognize(ctx context.Context, image []byte) ([]Match, error)

	// Verify compares the probe against a single reference image.
	Verify(ctx context.Context, probe, reference []byte) (Verification, error)

	// AddExample registers image as a reference example for subject in the
	// backend's gallery, creating the subject if needed.
	AddExample(ctx context.Context, subject string, image []byte, filename string) error

	// RemoveSubject deletes a subject and all of its examples from the
	// backend's gallery. Removing an unknown subject is not an error.
	RemoveSubject(ctx context.Context, subject string) error
}
