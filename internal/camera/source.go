package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-go/config"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when no frame has been captured yet.
var ErrNoFrame = errors.New("no video frame captured")

// Source owns the process-wide camera handle. The device is opened once at
// startup and released on shutdown; a background loop keeps the most recent
// frame available as JPEG for attendance probes and the MJPEG stream.
type Source struct {
	cfg config.CameraConfig
	cap *gocv.VideoCapture

	mu    sync.RWMutex
	frame []byte // Last captured frame, JPEG-encoded

	stop chan struct{}
	done chan struct{}
}

// Open opens the configured capture device.
func Open(cfg config.CameraConfig) (*Source, error) {
	capture, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera device %d: %w", cfg.Device, err)
	}

	log.Infof("Camera device %d opened", cfg.Device)
	return &Source{
		cfg:  cfg,
		cap:  capture,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Run captures frames until Close is called. It should be run in a
// separate goroutine.
func (s *Source) Run() {
	defer close(s.done)

	fps := s.cfg.FPS
	if fps <= 0 {
		fps = 10
	}
	interval := time.Second / time.Duration(fps)

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.cap.Read(&img); !ok || img.Empty() {
			log.Warn("Failed to read frame from camera")
			time.Sleep(interval)
			continue
		}

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
		if err != nil {
			log.Warnf("Failed to encode camera frame: %v", err)
			time.Sleep(interval)
			continue
		}

		frame := make([]byte, len(buf.GetBytes()))
		copy(frame, buf.GetBytes())
		buf.Close()

		s.mu.Lock()
		s.frame = frame
		s.mu.Unlock()

		time.Sleep(interval)
	}
}

// CurrentFrame returns the most recent JPEG frame.
func (s *Source) CurrentFrame() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

// Close stops the capture loop and releases the device.
func (s *Source) Close() {
	close(s.stop)
	<-s.done
	if err := s.cap.Close(); err != nil {
		log.Warnf("Failed to release camera device: %v", err)
	}
	log.Info("Camera device released")
}
