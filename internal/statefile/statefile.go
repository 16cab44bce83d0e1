// Package statefile persists the volume and mute state plus the active
// config path across restarts.
package statefile

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mvirtane/flowdsp-go/internal/audio"
	"github.com/mvirtane/flowdsp-go/internal/logging"
)

// State is the persisted document.
type State struct {
	ConfigPath string                   `yaml:"config_path,omitempty"`
	Mute       [audio.NumFaders]bool    `yaml:"mute"`
	Volume     [audio.NumFaders]float32 `yaml:"volume"`
}

// Load reads a statefile. A missing or invalid file is not an error; the
// engine falls back to defaults.
func Load(filename string) *State {
	logger := logging.ServiceLogger("statefile")
	data, err := os.ReadFile(filename)
	if err != nil {
		logger.Warn("could not read statefile", "filename", filename, "error", err)
		return nil
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		logger.Warn("invalid statefile, ignoring", "filename", filename, "error", err)
		return nil
	}
	return state
}

// Saver persists state changes from a dedicated goroutine. Writers flag
// unsaved changes; the saver debounces the disk writes.
type Saver struct {
	filename string
	params   *audio.ProcessingParameters
	unsaved  atomic.Bool

	mu         sync.Mutex
	configPath string

	done   chan struct{}
	logger *slog.Logger
}

// saveInterval is how often unsaved changes reach disk.
const saveInterval = 1 * time.Second

// NewSaver creates a saver writing to filename. Call Run to start it.
func NewSaver(filename string, params *audio.ProcessingParameters) *Saver {
	return &Saver{
		filename: filename,
		params:   params,
		done:     make(chan struct{}),
		logger:   logging.ServiceLogger("statefile"),
	}
}

// SetConfigPath records the config path to persist.
func (s *Saver) SetConfigPath(path string) {
	s.mu.Lock()
	s.configPath = path
	s.mu.Unlock()
	s.MarkChanged()
}

// ConfigPath returns the recorded config path.
func (s *Saver) ConfigPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configPath
}

// MarkChanged flags that the state differs from what is on disk.
func (s *Saver) MarkChanged() {
	s.unsaved.Store(true)
}

// Run persists changes until Stop is called. The final state is written on
// the way out.
func (s *Saver) Run() {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.unsaved.CompareAndSwap(true, false) {
				s.save()
			}
		case <-s.done:
			s.save()
			return
		}
	}
}

// Stop ends the saver after a final write.
func (s *Saver) Stop() {
	close(s.done)
}

func (s *Saver) save() {
	state := State{
		ConfigPath: s.ConfigPath(),
		Volume:     s.params.Volumes(),
		Mute:       s.params.Mutes(),
	}
	data, err := yaml.Marshal(&state)
	if err != nil {
		s.logger.Error("unable to marshal state", "error", err)
		return
	}
	if err := os.WriteFile(s.filename, data, 0o644); err != nil {
		s.logger.Error("unable to write statefile", "filename", s.filename, "error", err)
	}
}
