package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/message"
)

// fileWriter manages a single JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	eventBuffer  []message.Event
	platform     message.Platform
	roomID       string
	filename     string
}

// Recorder drains the event sink into one JSONL file per room, rotating by
// age and size. The path of every closed file is offered on the completed
// channel passed to Start.
type Recorder struct {
	outputDir       string
	bufferSize      int
	rotateMinutes   int
	rotateMegabytes int64
	logger          *zap.Logger
	now             func() time.Time

	currentFiles map[string]*fileWriter // key: "platform_room"
	completed    chan<- string
	mu           sync.Mutex
}

// New creates a new recorder
func New(outputDir string, bufferSize, rotateMinutes, rotateMegabytes int, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Recorder{
		outputDir:       outputDir,
		bufferSize:      bufferSize,
		rotateMinutes:   rotateMinutes,
		rotateMegabytes: int64(rotateMegabytes) * 1024 * 1024,
		logger:          logger,
		now:             time.Now,
		currentFiles:    make(map[string]*fileWriter),
	}
}

// Start records events until ctx is done or events is closed, then flushes
// and closes every file. completed may be nil when nothing ships the files.
func (r *Recorder) Start(ctx context.Context, events <-chan message.Event, completed chan<- string) error {
	r.completed = completed
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				r.flushAll()
				return nil
			}
			if err := r.record(ev); err != nil {
				r.logger.Error("Error recording event", zap.Error(err))
			}

		case <-ticker.C:
			r.checkRotation()

		case <-ctx.Done():
			r.logger.Info("Recorder shutting down, flushing buffers...")
			r.flushAll()
			return ctx.Err()
		}
	}
}

// record buffers a single event
func (r *Recorder) record(ev message.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform, roomID := ev.Source()
	key := fmt.Sprintf("%s_%s", platform, roomID)
	fw := r.currentFiles[key]

	if fw == nil {
		var err error
		fw, err = r.createFileWriter(platform, roomID)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		r.currentFiles[key] = fw
	}

	fw.eventBuffer = append(fw.eventBuffer, ev)

	if len(fw.eventBuffer) >= r.bufferSize {
		if err := r.flushFileWriter(fw); err != nil {
			return fmt.Errorf("flush buffer: %w", err)
		}
	}

	return nil
}

// createFileWriter opens a new file for a room
func (r *Recorder) createFileWriter(platform message.Platform, roomID string) (*fileWriter, error) {
	now := r.now().UTC()
	filename := fmt.Sprintf("%s_%s_%s.jsonl", platform, roomID, now.Format("20060102_150405"))
	path := filepath.Join(r.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	r.logger.Info("Created new event log", zap.String("file", filename))

	return &fileWriter{
		file:        file,
		writer:      bufio.NewWriter(file),
		createdAt:   now,
		eventBuffer: make([]message.Event, 0, r.bufferSize),
		platform:    platform,
		roomID:      roomID,
		filename:    filename,
	}, nil
}

// flushFileWriter writes buffered events to disk
func (r *Recorder) flushFileWriter(fw *fileWriter) error {
	for _, ev := range fw.eventBuffer {
		data, err := json.Marshal(ev)
		if err != nil {
			r.logger.Error("Error marshaling event", zap.Error(err))
			continue
		}

		n, err := fw.writer.Write(data)
		if err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		fw.bytesWritten += int64(n)

		if err := fw.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
		fw.bytesWritten++
	}

	fw.eventBuffer = fw.eventBuffer[:0]
	return fw.writer.Flush()
}

// checkRotation flushes every buffer and rotates files past their limits
func (r *Recorder) checkRotation() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, fw := range r.currentFiles {
		if err := r.flushFileWriter(fw); err != nil {
			r.logger.Error("Error flushing file writer", zap.String("file", fw.filename), zap.Error(err))
		}

		needsRotation := false
		if r.rotateMinutes > 0 && now.Sub(fw.createdAt).Minutes() >= float64(r.rotateMinutes) {
			needsRotation = true
			r.logger.Info("Rotating file (time limit)", zap.String("file", fw.filename))
		}
		if r.rotateMegabytes > 0 && fw.bytesWritten >= r.rotateMegabytes {
			needsRotation = true
			r.logger.Info("Rotating file (size limit)", zap.String("file", fw.filename))
		}

		if needsRotation {
			r.rotateFile(key, fw)
		}
	}
}

// rotateFile closes the current file and opens a new one
func (r *Recorder) rotateFile(key string, fw *fileWriter) {
	r.closeFileWriter(fw)
	r.handOff(fw)

	newFw, err := r.createFileWriter(fw.platform, fw.roomID)
	if err != nil {
		r.logger.Error("Error creating new file writer", zap.Error(err))
		delete(r.currentFiles, key)
		return
	}
	r.currentFiles[key] = newFw
}

func (r *Recorder) closeFileWriter(fw *fileWriter) {
	if err := r.flushFileWriter(fw); err != nil {
		r.logger.Error("Error flushing file writer", zap.String("file", fw.filename), zap.Error(err))
	}
	if err := fw.file.Close(); err != nil {
		r.logger.Error("Error closing file", zap.String("file", fw.filename), zap.Error(err))
	}
}

// flushAll flushes all file writers and closes files
func (r *Recorder) flushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, fw := range r.currentFiles {
		r.closeFileWriter(fw)
		r.handOff(fw)
		delete(r.currentFiles, key)
	}

	r.logger.Info("All event logs flushed and closed")
}

// handOff queues a closed file for upload. A full queue leaves the file on
// disk for the next startup scan.
func (r *Recorder) handOff(fw *fileWriter) {
	if r.completed == nil {
		return
	}
	path := filepath.Join(r.outputDir, fw.filename)
	select {
	case r.completed <- path:
		r.logger.Info("Queued file for upload", zap.String("file", fw.filename))
	default:
		r.logger.Warn("Upload queue full, file will be uploaded later", zap.String("file", fw.filename))
	}
}
