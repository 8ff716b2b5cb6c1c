// Package main provides voxplay, a small client that joins a voice session
// with credentials obtained elsewhere and plays one audio file into it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voxcore"
	"github.com/opd-ai/voxcore/config"
	"github.com/opd-ai/voxcore/connection"
	"github.com/opd-ai/voxcore/events"
	"github.com/opd-ai/voxcore/id"
	"github.com/opd-ai/voxcore/tracks"
)

// CLI configuration
type cliConfig struct {
	envFile     string
	endpoint    string
	guild       uint64
	channel     uint64
	user        uint64
	session     string
	token       string
	file        string
	volume      float64
	loops       int
	metricsAddr string
	logLevel    string
	help        bool
}

func parseFlags() *cliConfig {
	c := &cliConfig{}

	flag.StringVar(&c.envFile, "env", "", "Load VOXCORE_* settings from this file (default: ./.env if present)")

	// Session credentials
	flag.StringVar(&c.endpoint, "endpoint", "", "Voice server endpoint (host:port)")
	flag.Uint64Var(&c.guild, "guild", 0, "Guild ID")
	flag.Uint64Var(&c.channel, "channel", 0, "Channel ID")
	flag.Uint64Var(&c.user, "user", 0, "User ID")
	flag.StringVar(&c.session, "session", "", "Voice session ID")
	flag.StringVar(&c.token, "token", "", "Voice token")

	// Playback
	flag.StringVar(&c.file, "file", "", "Audio file to play (.mp3, .flac, .pcm)")
	flag.Float64Var(&c.volume, "volume", 1, "Playback volume")
	flag.IntVar(&c.loops, "loops", 0, "Extra plays after the first; -1 loops forever")

	flag.StringVar(&c.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&c.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flag.BoolVar(&c.help, "help", false, "Show help message")

	flag.Parse()
	return c
}

func printUsage() {
	fmt.Println("voxplay: play an audio file into a voice channel")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s -endpoint HOST:PORT -guild ID -channel ID -user ID -session ID -token TOKEN -file PATH\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func (c *cliConfig) validate() error {
	switch {
	case c.file == "":
		return errors.New("file cannot be empty")
	case c.volume < 0:
		return errors.New("volume cannot be negative")
	case c.loops < -1:
		return errors.New("loops must be -1 or more")
	}
	return c.info().Validate()
}

func (c *cliConfig) info() connection.Info {
	return connection.Info{
		Endpoint:  c.endpoint,
		GuildID:   id.GuildID(c.guild),
		ChannelID: id.ChannelID(c.channel),
		UserID:    id.UserID(c.user),
		SessionID: c.session,
		Token:     c.token,
	}
}

func (c *cliConfig) trackOptions() tracks.Options {
	opts := tracks.DefaultOptions()
	opts.Volume = float32(c.volume)
	switch {
	case c.loops < 0:
		opts.Loops = tracks.LoopForever()
	case c.loops > 0:
		opts.Loops = tracks.LoopTimes(uint(c.loops))
	}
	return opts
}

func loadConfig(c *cliConfig) (*config.Config, error) {
	var files []string
	if c.envFile != "" {
		files = append(files, c.envFile)
	}
	cfg, err := config.FromEnv(files...)
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	return cfg, cfg.Validate()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("Metrics server stopped")
		}
	}()
}

func run(ctx context.Context, c *cliConfig, cfg *config.Config) error {
	var opts []voxcore.Option
	if c.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, voxcore.WithRegisterer(reg))
		serveMetrics(c.metricsAddr, reg)
	}

	call, err := voxcore.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer call.Close()

	sub, evs := call.SubscribeChan(events.OnKinds(
		events.KindStateChange, events.KindReconnect, events.KindDisconnect, events.KindTrackError,
	), 16)
	defer sub.Cancel()

	if err := call.Join(ctx, c.info()); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}

	src, err := call.Open(c.file)
	if err != nil {
		return err
	}
	handle, err := call.PlayTrack(src, c.trackOptions())
	if err != nil {
		return err
	}
	done := make(chan struct{})
	if err := handle.AddEvent(events.Track(events.KindTrackEnd), func(events.Context) events.Action {
		close(done)
		return events.Remove
	}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			logrus.Info("Playback finished")
			return nil
		case ev := <-evs:
			if err := report(ev); err != nil {
				return err
			}
		}
	}
}

// report logs session events and returns an error once the session is gone.
func report(ev events.Context) error {
	switch e := ev.(type) {
	case connection.StateChange:
		logrus.WithFields(logrus.Fields{"from": e.From.String(), "to": e.To.String()}).Info("Session state changed")
	case connection.Reconnected:
		logrus.WithField("method", e.Method).Warn("Session recovered")
	case connection.Disconnected:
		if e.Err != nil {
			return fmt.Errorf("session lost: %w", e.Err)
		}
		return errors.New("session closed")
	case tracks.Event:
		return fmt.Errorf("playback failed: %w", e.State.Err)
	}
	return nil
}

func main() {
	c := parseFlags()
	if c.help {
		printUsage()
		os.Exit(0)
	}
	if err := c.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\nUse -help for usage information.\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, cfg); err != nil {
		logrus.WithError(err).Error("voxplay failed")
		os.Exit(1)
	}
}
