// Package main provides the entry point for the Orpheus CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dgnsrekt/orpheus-tts/internal/app"
	"github.com/dgnsrekt/orpheus-tts/internal/chat"
	"github.com/dgnsrekt/orpheus-tts/internal/config"
	"github.com/dgnsrekt/orpheus-tts/internal/prefs"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
	"github.com/dgnsrekt/orpheus-tts/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	style      string
	mouse      bool
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:   "orpheus",
		Short: "Talk to an Orpheus TTS server, out loud",
		Long: paragraph(
			fmt.Sprintf("\nSpeak chat replies and typed text with %s, as it streams in.", keyword("Orpheus TTS")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: func(*cobra.Command, []string) error {
			return runTUI()
		},
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	style = viper.GetString("style")
	mouse = viper.GetBool("mouse")

	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	if err := setLogLevel(level); err != nil {
		return err
	}
	log.Debug("Loaded configuration", "path", viper.ConfigFileUsed(), "level", level)
	return nil
}

// requireServer fails when the speech server isn't configured.
func requireServer() error {
	if cfg.Orpheus.URL == "" {
		return fmt.Errorf("%w: set orpheus.url in %s", tts.ErrNoServer, configFile)
	}
	return nil
}

// newSession builds and starts the pipeline and session. The returned
// cleanup stops both; cancel ctx before calling it.
func newSession(ctx context.Context, audioDisabled bool) (*app.Session, *app.Pipeline, func(), error) {
	if err := requireServer(); err != nil {
		return nil, nil, nil, err
	}
	if audioDisabled {
		cfg.Audio.Disabled = true
	}

	events := tts.NewEvents(tts.DefaultEventsCapacity)

	prefsPath, err := prefs.DefaultPath()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not locate preferences: %w", err)
	}
	store, err := prefs.Open(prefsPath, cfg.ChatEnabled(), events)
	if err != nil {
		return nil, nil, nil, err
	}

	p, err := app.NewPipeline(cfg, app.Options{
		Events:   events,
		KeepData: func() bool { return store.Get().SaveAudio },
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var chatter app.Chatter
	if cfg.ChatEnabled() {
		if c, err := newChat(events); err != nil {
			events.Logf(log.ErrorLevel, "Chat mode is disabled: %v", err)
		} else {
			chatter = c
		}
	}

	s := app.NewSession(p, store, chatter, app.SessionConfig{
		ChatURL:    cfg.Chat.BaseURL,
		ConfigPath: configFile,
		Segmenter:  cfg.SegmenterOptions(),
	})
	p.Start(ctx)

	cleanup := func() {
		s.Close()
		if err := p.Close(); err != nil {
			log.Error("Shutdown incomplete", "error", err)
		}
	}
	return s, p, cleanup, nil
}

func newChat(events *tts.Events) (*chat.Client, error) {
	cc, warnings, err := cfg.ChatClientConfig()
	for _, w := range warnings {
		events.Logf(log.WarnLevel, "%s", w)
	}
	if err != nil {
		return nil, err
	}
	return chat.New(cc)
}

func runTUI() error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	if uiCfg.GlamourStyle == styles.AutoStyle && style != "" {
		uiCfg.GlamourStyle = style
	}
	uiCfg.EnableMouse = uiCfg.EnableMouse || mouse

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, _, cleanup, err := newSession(ctx, false)
	if err != nil {
		return err
	}
	s.Startup(ctx)

	p := ui.NewProgram(uiCfg, s, s.Events().C())
	_, err = p.Run()

	cancel()
	cleanup()
	if err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
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

	rootCmd.PersistentFlags().StringVar(&configFile, "config", configFile, "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log debug messages")
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "glamour style for the help menu")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))

	viper.SetDefault("style", styles.AutoStyle)
	config.SetDefaults()

	rootCmd.AddCommand(speakCmd, pingCmd, voicesCmd, cacheCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "orpheus")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "orpheus")}, dirs...)
	}

	if c := os.Getenv("ORPHEUS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("orpheus")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("orpheus")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		configFile = used
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "orpheus.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Warn("Could not parse configuration file", "err", err)
	}
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// readText returns the text to speak from args or stdin.
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		if len(args) == 0 {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return "", errors.New("nothing to speak: pass TEXT or pipe it on stdin")
			}
			if yes, err := stdinIsPipe(); err != nil {
				return "", err
			} else if !yes {
				return "", errors.New("nothing to speak: pass TEXT or pipe it on stdin")
			}
		}
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}
