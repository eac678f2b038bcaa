// Package config loads and validates the orchestrator's runtime
// configuration (spec §6.4), and watches the config file for live reload of
// non-structural settings -- the way a long-running daemon should, per the
// rest of the retrieval pack (fsnotify-driven reload, as in kubernaut's
// internal/config).
package config

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/fsnotify/fsnotify"
)

type Bus struct {
	InflightPerSubscription int    `json:"inflight_per_subscription"`
	URL                     string `json:"url"`
	Disabled                bool   `json:"-"` // not loaded or set by Load; the top-level DisableBus is the setting read
}

type Aggregator struct {
	RetryMaxPerProfile       int `json:"retry_max_per_profile"`
	DeadLetterMaxConsecutive int `json:"dead_letter_max_consecutive"`
	Stripes                  int `json:"stripes"`
}

type Callback struct {
	MaxAttempts  int `json:"max_attempts"`
	BaseDelayMS  int `json:"base_delay_ms"`
	TimeoutSecs  int `json:"timeout_secs"`
}

type Blob struct {
	BatchDeleteSize int    `json:"batch_delete_size"`
	Backend         string `json:"backend"` // "s3" | "azure" | "gcs"
	Bucket          string `json:"bucket"`
	TimeoutSecs     int    `json:"timeout_secs"`
	KeyBase         string `json:"key_base"`

	// S3-only.
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`

	// Azure-only.
	AzureAccountURL  string `json:"azure_account_url,omitempty"`
	AzureAccountName string `json:"azure_account_name,omitempty"`
	AzureAccountKey  string `json:"azure_account_key,omitempty"`
}

type MediaClassifier struct {
	DefaultOnUnknown string `json:"default_on_unknown"`
}

type Store struct {
	Path          string `json:"path"` // buntdb file path, ":memory:" for tests
	TimeoutSecs   int    `json:"timeout_secs"`
}

type Config struct {
	Bus             Bus             `json:"bus"`
	Aggregator      Aggregator      `json:"aggregator"`
	Callback        Callback        `json:"callback"`
	Blob            Blob            `json:"blob"`
	MediaClassifier MediaClassifier `json:"media_classifier"`
	Store           Store           `json:"store"`
	DisableBus      bool            `json:"disable_bus"`
	Verbosity       int             `json:"verbosity"`
	HTTPAddr        string          `json:"http_addr"`
}

func Default() *Config {
	return &Config{
		Bus:             Bus{InflightPerSubscription: 8},
		Aggregator:      Aggregator{RetryMaxPerProfile: 3, DeadLetterMaxConsecutive: 5, Stripes: 256},
		Callback:        Callback{MaxAttempts: 5, BaseDelayMS: 1000, TimeoutSecs: 30},
		Blob:            Blob{BatchDeleteSize: 1000, Backend: "s3", TimeoutSecs: 60},
		MediaClassifier: MediaClassifier{DefaultOnUnknown: "video"},
		Store:           Store{Path: "mediaorch.db", TimeoutSecs: 10},
		HTTPAddr:        ":8080",
	}
}

func (c *Config) Validate() error {
	if c.Aggregator.RetryMaxPerProfile < 0 {
		return cmn.NewErrBadRequest("aggregator.retry_max_per_profile must be >= 0")
	}
	if c.Callback.MaxAttempts < 1 {
		return cmn.NewErrBadRequest("callback.max_attempts must be >= 1")
	}
	if c.Blob.BatchDeleteSize < 1 || c.Blob.BatchDeleteSize > 1000 {
		return cmn.NewErrBadRequest("blob.batch_delete_size must be in [1, 1000]")
	}
	switch c.MediaClassifier.DefaultOnUnknown {
	case "video", "image", "unknown":
	default:
		return cmn.NewErrBadRequest("media_classifier.default_on_unknown must be video|image|unknown")
	}
	return nil
}

// Holder is an atomically-swappable Config, watched for file changes. All
// components read through Holder.Get() rather than closing over a *Config,
// so a SIGHUP-free live reload just swaps the pointer.
type Holder struct {
	mu   sync.Mutex
	path string
	v    atomic.Pointer[Config]
}

func Load(path string) (*Holder, error) {
	h := &Holder{path: path}
	c, err := readFile(path)
	if err != nil {
		return nil, err
	}
	h.v.Store(c)
	return h, nil
}

func (h *Holder) Get() *Config { return h.v.Load() }

func readFile(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, cmn.Wrap(err, "read config file")
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, cmn.Wrap(err, "parse config file")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Watch starts an fsnotify watcher on the config file and hot-swaps Holder's
// value on write events. Structural fields (store path, blob backend) are
// read once at startup by the owning component; only tunables consulted on
// every call (retry and dead-letter bounds, callback attempts and base
// delay, the classifier default) actually benefit. Timeouts and inflight
// caps are read once at startup and are not changed by a reload.
func (h *Holder) Watch(stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return cmn.Wrap(err, "create config watcher")
	}
	if err := w.Add(h.path); err != nil {
		w.Close()
		return cmn.Wrap(err, "watch config file")
	}
	go func() {
		defer w.Close()
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					c, err := readFile(h.path)
					if err != nil {
						nlog.Warningf("config reload skipped: %v", err)
						return
					}
					h.v.Store(c)
					nlog.Infoln("config reloaded from", h.path)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				nlog.Warningf("config watcher error: %v", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}
