// Package main provides the entry point for the lilyweb server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/legoalpha321/lilypondnotation/engrave"
	"github.com/legoalpha321/lilypondnotation/internal/cache"
	"github.com/legoalpha321/lilypondnotation/server"
	"github.com/legoalpha321/lilypondnotation/session"
	"github.com/legoalpha321/lilypondnotation/synth"
	"github.com/legoalpha321/lilypondnotation/utils"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	listenAddr    string
	lilypondPath  string
	synthPath     string
	soundfontPath string
	cacheDir      string
	debug         bool

	rootCmd = &cobra.Command{
		Use:   "lilyweb",
		Short: "Engrave LilyPond notation from your browser",
		Long: paragraph(
			fmt.Sprintf("\nServe a web page that converts LilyPond notation to %s sheet music, with an optional %s preview.", keyword("PDF"), keyword("audio")),
		),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLog()
		},
		RunE: serve,
	}
)

func serve(*cobra.Command, []string) error {
	cfg, err := env.ParseAs[server.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	if addr := viper.GetString("listen"); addr != "" {
		cfg.Listen = addr
	}

	logger := log.Default()

	locator := engrave.NewLocator(
		engrave.WithOverride(engrave.ToolName, utils.ExpandPath(viper.GetString("lilypond"))),
		engrave.WithOverride(synth.ToolName, utils.ExpandPath(viper.GetString("fluidsynth"))),
		engrave.WithLocatorLogger(logger),
	)

	store, err := cache.New(utils.ExpandPath(viper.GetString("cache_dir")))
	if err != nil {
		return fmt.Errorf("unable to open artifact cache: %w", err)
	}
	defer store.Close()
	logger.Info("artifact cache ready", "path", store.Path())

	sessions := session.NewManager(
		session.WithRateLimit(rate.Every(cfg.RateEvery), cfg.RateBurst),
		session.WithIdleExpiry(viper.GetDuration("session_expiry")),
		session.WithPruneHook(func(id string) {
			if err := store.ClearScope(id); err != nil {
				logger.Warn("unable to clear session cache", "session", id, "err", err)
			}
		}),
	)

	engraver := engrave.New(locator,
		engrave.WithCache(store),
		engrave.WithTimeout(viper.GetDuration("engrave_timeout")),
		engrave.WithLogger(logger),
	)
	renderer := synth.New(locator,
		synth.WithSoundfont(utils.ExpandPath(viper.GetString("soundfont"))),
		synth.WithTimeout(viper.GetDuration("synth_timeout")),
		synth.WithLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !engraver.Available(ctx) {
		logger.Warn("lilypond not found; conversions will be disabled until it is installed")
	}
	if !renderer.Available(ctx) {
		logger.Warn("no synthesizer or timbre bank found; audio preview disabled")
	}

	srv, err := server.New(cfg, engraver, renderer, sessions,
		server.WithArtifactCache(store),
		server.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("unable to build server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Background sweep for idle sessions and their cache entries.
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.PruneIdle(); n > 0 {
					logger.Info("pruned idle sessions", "count", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "address to listen on (host:port)")
	rootCmd.Flags().StringVar(&lilypondPath, "lilypond", "", "path to the lilypond executable")
	rootCmd.Flags().StringVar(&synthPath, "fluidsynth", "", "path to the fluidsynth executable")
	rootCmd.Flags().StringVar(&soundfontPath, "soundfont", "", "path to a soundfont (.sf2) timbre bank")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for durable artifacts (default under the temp root)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "verbose logging")

	// Config bindings
	_ = viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("lilypond", rootCmd.Flags().Lookup("lilypond"))
	_ = viper.BindPFlag("fluidsynth", rootCmd.Flags().Lookup("fluidsynth"))
	_ = viper.BindPFlag("soundfont", rootCmd.Flags().Lookup("soundfont"))
	_ = viper.BindPFlag("cache_dir", rootCmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))

	viper.SetDefault("listen", "")
	viper.SetDefault("engrave_timeout", engrave.DefaultTimeout)
	viper.SetDefault("synth_timeout", synth.DefaultTimeout)
	viper.SetDefault("session_expiry", session.DefaultIdleExpiry)

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "lilyweb")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "lilyweb")}, dirs...)
	}

	if c := os.Getenv("LILYWEB_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("lilyweb")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("lilyweb")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "lilyweb.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
