package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Tuning holds the knobs that may change while the process runs. Loaded from
// an optional YAML file (CONFIG_PATH, default ./config/tuning.yaml) and
// re-read on file modification.
type Tuning struct {
	Retrieval struct {
		TopK               int     `mapstructure:"top_k"`
		RelevanceThreshold float64 `mapstructure:"relevance_threshold"`
		RerankWeight       float64 `mapstructure:"rerank_weight"`
		VariantCount       int     `mapstructure:"variant_count"`
	} `mapstructure:"retrieval"`
	Filter struct {
		MaxTokens  int  `mapstructure:"max_tokens"`
		MinResults int  `mapstructure:"min_results"`
		Diversity  bool `mapstructure:"diversity"`
	} `mapstructure:"filter"`
}

// TuningHandler is invoked after a successful reload.
type TuningHandler func(Tuning)

// Watcher reloads the tuning file on change.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []TuningHandler
	current  Tuning
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewWatcher loads the tuning file once and prepares the fsnotify watch.
// A missing file is not an error; defaults apply until it appears.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{
		path:    path,
		watcher: fw,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
	if t, err := loadTuning(path); err == nil {
		w.current = t
	} else {
		logger.Info("Tuning file not loaded, using defaults",
			zap.String("path", path), zap.Error(err))
	}
	return w, nil
}

// OnChange registers a handler called after every successful reload.
func (w *Watcher) OnChange(h TuningHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the last successfully loaded tuning values.
func (w *Watcher) Current() Tuning {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start watches the tuning file's directory for modifications.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go w.loop()
	return nil
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	// Editors often emit bursts of events for one save; debounce.
	var pending <-chan time.Time
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Tuning watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	t, err := loadTuning(w.path)
	if err != nil {
		w.logger.Warn("Tuning reload failed, keeping previous values",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	w.mu.Lock()
	w.current = t
	handlers := make([]TuningHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	w.logger.Info("Tuning reloaded", zap.String("path", w.path))
	for _, h := range handlers {
		h(t)
	}
}

func loadTuning(path string) (Tuning, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Tuning{}, fmt.Errorf("read config: %w", err)
	}
	var t Tuning
	if err := v.Unmarshal(&t); err != nil {
		return Tuning{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return t, nil
}
