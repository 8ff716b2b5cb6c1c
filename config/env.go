package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opd-ai/voxcore/crypto"
	"github.com/opd-ai/voxcore/mixer"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "VOXCORE_"

// FromEnv returns Default overlaid with VOXCORE_* variables. The named
// files are loaded first with godotenv; with no names, a missing ./.env is
// not an error. Variables already set in the process environment win over
// file contents.
func FromEnv(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}

	cfg := Default()
	if err := cfg.Overlay(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Overlay applies every variable lookup finds. Parse failures are joined
// and reported together; fields that parsed are still applied.
func (c *Config) Overlay(lookup func(string) (string, bool)) error {
	r := envReader{lookup: lookup}

	if v, ok := r.get("CRYPTO_MODES"); ok {
		modes, err := parseModes(v)
		r.fail("CRYPTO_MODES", err)
		if err == nil {
			c.Modes = modes
		}
	}
	if v, ok := r.get("SILENCE"); ok {
		switch strings.ToLower(v) {
		case mixer.SilenceFill.String():
			c.Silence = SilenceFill
		case mixer.SilenceSuppress.String():
			c.Silence = SilenceSuppress
		default:
			r.fail("SILENCE", fmt.Errorf("unknown policy %q", v))
		}
	}
	r.str("ENCODER", &c.Encoder)
	r.integer("BITRATE", &c.Bitrate)
	r.duration("MIXER_PERIOD", &c.MixerPeriod)
	r.integer("EVENT_QUEUE", &c.EventQueue)

	r.duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	r.integer("MAX_MISSED_HEARTBEATS", &c.MaxMissedHeartbeats)
	r.integer("MAX_RESUME_ATTEMPTS", &c.MaxResumeAttempts)
	r.integer("MAX_RECONNECT_ATTEMPTS", &c.MaxReconnectAttempts)
	r.duration("BACKOFF_INITIAL", &c.BackoffInitial)
	r.duration("BACKOFF_MAX", &c.BackoffMax)
	r.integer("SEND_FAILURE_THRESHOLD", &c.SendFailureThreshold)
	r.integer("DECRYPT_FAILURE_THRESHOLD", &c.DecryptFailureThreshold)
	r.duration("DECRYPT_FAILURE_WINDOW", &c.DecryptFailureWindow)

	r.integer("SEND_QUEUE", &c.SendQueue)
	r.integer("DISCOVERY_ATTEMPTS", &c.DiscoveryAttempts)
	r.duration("DISCOVERY_INTERVAL", &c.DiscoveryInterval)
	r.boolean("DECODE_VOICE", &c.DecodeVoice)

	r.integer("PREFETCH_FRAMES", &c.PrefetchFrames)
	r.str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(r.errs...)
}

func parseModes(v string) ([]crypto.Mode, error) {
	var modes []crypto.Mode
	for _, name := range strings.Split(v, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		m, err := crypto.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	if len(modes) == 0 {
		return nil, errors.New("empty mode list")
	}
	return modes, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *envReader) fail(key string, err error) {
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err))
	}
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	if v, ok := r.get(key); ok {
		n, err := strconv.Atoi(v)
		r.fail(key, err)
		if err == nil {
			*dst = n
		}
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	if v, ok := r.get(key); ok {
		b, err := strconv.ParseBool(v)
		r.fail(key, err)
		if err == nil {
			*dst = b
		}
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if v, ok := r.get(key); ok {
		d, err := time.ParseDuration(v)
		r.fail(key, err)
		if err == nil {
			*dst = d
		}
	}
}
