package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"splashguard/internal/config"
	"splashguard/internal/dex"
	"splashguard/internal/fallback"
	"splashguard/internal/integration/bstar"
	"splashguard/internal/introspect"
	"splashguard/internal/rescache"
	"splashguard/internal/slogutil"
	"splashguard/internal/storage"
	"splashguard/internal/symtab"
	"splashguard/internal/version"
)

var (
	rootDir   string
	verbosity int
	quiet     bool
	noStore   bool
)

var rootCmd = &cobra.Command{
	Use:   "splashguard",
	Short: "splashguard - obfuscation-resilient splash ad suppression",
	Long: `splashguard resolves the splash advertisement symbols of the bstar Android app
by structural fingerprint, so the suppression patches survive obfuscated builds.

The commands run the resolver and fallback controller against DEX files or APKs
and report what would be intercepted.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("splashguard version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Directory holding .splashguard/")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all logs")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "Do not read or write the persistent table store")
}

// session bundles what every command needs: config, logger and the loaded code.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *introspect.DexProvider
	closers  []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newSession loads config and parses paths. The caller must Close it.
func newSession(ctx context.Context, stderr io.Writer, paths []string) (*session, error) {
	cfg, err := config.LoadConfig(rootDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: newLogger(stderr, cfg)}
	if path := cfg.LogPath(rootDir); path != "" {
		fileLogger, closer, err := slogutil.NewFileLoggerWithLimit(path, logLevel(cfg), cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.closers = append(s.closers, func() { _ = closer.Close() })
		s.logger = slog.New(slogutil.NewTeeHandler(s.logger.Handler(), fileLogger.Handler()))
	}

	files, err := dex.Load(ctx, paths...)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.provider, err = introspect.NewDexProvider(files, cfg.Dex.RefCacheSize, s.logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.logger.Info("Loaded code",
		"dexFiles", len(files),
		"types", len(s.provider.ListLoadedTypes()),
		"digest", s.provider.Digest()[:16],
	)
	return s, nil
}

// logLevel honours -v/-q over the configured level.
func logLevel(cfg *config.Config) slog.Level {
	if quiet || verbosity > 0 {
		return slogutil.LevelFromVerbosity(verbosity, quiet)
	}
	return slogutil.LevelFromString(cfg.Logging.Level)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := logLevel(cfg)
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slogutil.NewLogger(w, level)
}

// cache returns a resolution cache, backed by the table store unless
// persistence is off. A store that cannot be opened degrades to memory only.
func (s *session) cache() *rescache.Cache {
	opts := rescache.Options{
		Digest:    s.provider.Digest(),
		Mandatory: symtab.MandatoryKeys(bstar.Keys()),
	}
	if s.cfg.Cache.Persist && !noStore {
		if store, err := s.openStore(); err != nil {
			s.logger.Warn("Table store unavailable, continuing without it", "error", err.Error())
		} else {
			opts.Store = store
		}
	}
	return rescache.New(opts, s.logger)
}

func (s *session) openStore() (*storage.TableStore, error) {
	dir := s.cfg.StorePath(rootDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	db, err := storage.Open(dir, s.logger)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewTableStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = db.Close() }, store.Close)
	return store, nil
}

// integration returns the bstar definition with config overrides applied.
func integration(cfg *config.Config) fallback.Integration {
	def := bstar.Definition()
	if cfg.Integration.PackageName != "" {
		def.PackageName = cfg.Integration.PackageName
	}
	if cfg.Fallback.DirectOwner != "" {
		def.DirectOwner = cfg.Fallback.DirectOwner
		def.DirectMember = cfg.Fallback.DirectMember
	}
	if len(cfg.Fallback.PatternPrefixes) > 0 {
		def.PatternPrefixes = append([]string(nil), cfg.Fallback.PatternPrefixes...)
	}
	return def
}
