package config

import (
	"errors"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy carries the attendance rules that operators may tune without a
// restart.
type Policy struct {
	SessionWindowTTL     time.Duration `mapstructure:"sessionWindowTTL"`
	StudentTokenTTL      time.Duration `mapstructure:"studentTokenTTL"`
	MaxCommitRetries     int           `mapstructure:"maxCommitRetries"`
	CommitTimeout        time.Duration `mapstructure:"commitTimeout"`
	RetryBackoff         time.Duration `mapstructure:"retryBackoff"`
	DefaultGroupCapacity int           `mapstructure:"defaultGroupCapacity"`
}

func DefaultPolicy() Policy {
	return Policy{
		SessionWindowTTL:     4 * time.Hour,
		StudentTokenTTL:      24 * time.Hour,
		MaxCommitRetries:     3,
		CommitTimeout:        5 * time.Second,
		RetryBackoff:         20 * time.Millisecond,
		DefaultGroupCapacity: 20,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config) (*PolicyHolder, error) {
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("attendance")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/edupass")
		v.AddConfigPath(filepath.Join(".", "config"))
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("EDUPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("attendance.sessionWindowTTL", defaults.SessionWindowTTL)
	v.SetDefault("attendance.studentTokenTTL", defaults.StudentTokenTTL)
	v.SetDefault("attendance.maxCommitRetries", defaults.MaxCommitRetries)
	v.SetDefault("attendance.commitTimeout", defaults.CommitTimeout)
	v.SetDefault("attendance.retryBackoff", defaults.RetryBackoff)
	v.SetDefault("attendance.defaultGroupCapacity", defaults.DefaultGroupCapacity)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Printf("[attendance-policy] reload ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[attendance-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	return h.current.Load().(Policy)
}

// decodePolicy overlays the keys present in the file on the defaults, so a
// partial file only changes what it names.
func decodePolicy(v *viper.Viper) (Policy, error) {
	policy := DefaultPolicy()
	if err := v.UnmarshalKey("attendance", &policy); err != nil {
		return Policy{}, err
	}
	if err := validatePolicy(policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func validatePolicy(p Policy) error {
	if p.SessionWindowTTL <= 0 {
		return errors.New("attendance.sessionWindowTTL must be positive")
	}
	if p.StudentTokenTTL <= 0 {
		return errors.New("attendance.studentTokenTTL must be positive")
	}
	if p.MaxCommitRetries < 0 {
		return errors.New("attendance.maxCommitRetries cannot be negative")
	}
	if p.CommitTimeout <= 0 {
		return errors.New("attendance.commitTimeout must be positive")
	}
	if p.RetryBackoff < 0 {
		return errors.New("attendance.retryBackoff cannot be negative")
	}
	if p.DefaultGroupCapacity <= 0 {
		return errors.New("attendance.defaultGroupCapacity must be positive")
	}
	return nil
}
