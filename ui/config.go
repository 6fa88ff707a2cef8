package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourStyle string `env:"ORPHEUS_TUI_STYLE" envDefault:"auto"`
	EnableMouse  bool   `env:"ORPHEUS_TUI_MOUSE"`

	// LogLines is the height of the log pane
	LogLines int `env:"ORPHEUS_TUI_LOG_LINES" envDefault:"6"`

	// MaxWidth caps the transcript width; zero uses the terminal width
	MaxWidth int `env:"ORPHEUS_TUI_MAX_WIDTH" envDefault:"100"`

	// For debugging the UI
	AltScreen bool `env:"ORPHEUS_TUI_ALT_SCREEN" envDefault:"true"`
}
