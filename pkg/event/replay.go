package event

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/protei/emmkpi/internal/logger"
)

// FileReplaySource drives messages from a newline-delimited JSON
// capture file, one decoded Message per line, in the order the file
// already lists them. Delivery is strictly sequential and
// single-threaded: no worker pool, since analyzer state depends on
// message order.
type FileReplaySource struct {
	path    string
	enabled map[TypeID]bool
	log     *logger.Logger
}

// NewFileReplaySource creates a replay source reading from path.
func NewFileReplaySource(path string) *FileReplaySource {
	return &FileReplaySource{
		path:    path,
		enabled: make(map[TypeID]bool),
		log:     logger.Get().WithComponent("event.replay"),
	}
}

// EnableLog registers interest in a stream name. Once at least one
// stream is enabled, messages whose TypeID was never enabled are
// skipped; with none enabled, every message is delivered.
func (s *FileReplaySource) EnableLog(name string) {
	s.enabled[TypeID(name)] = true
}

// Run reads the capture file line by line and delivers each decoded
// Message to onMessage in file order.
func (s *FileReplaySource) Run(ctx context.Context, onMessage func(*Message)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("event: open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.Warn().Int("line", lineNo).Err(err).Msg("skipping malformed replay record")
			continue
		}

		if len(s.enabled) > 0 && !s.enabled[msg.TypeID] {
			continue
		}

		onMessage(&msg)
	}
	return scanner.Err()
}
