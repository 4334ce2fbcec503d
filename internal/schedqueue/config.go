package schedqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config groups all tunables. Values are taken from environment variables
// with the prefix "KQ_SCHED_". Example: KQ_SCHED_SHARDS=2 .
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"2"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"64"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	// ErrorHandler is called synchronously after a Job exhausts its retries
	// or fails irrecoverably. Leave nil if you do not care.
	ErrorHandler func(error) `envconfig:"-"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"500ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"30s"`
}

// LoadConfig populates Config from environment variables (prefix KQ_SCHED_).
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process("kq_sched", &c)
}
