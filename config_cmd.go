package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Orpheus completions endpoint (required)
orpheus:
  url: "http://127.0.0.1:8080/v1/completions"
  model: "orpheus-3b-0.1-ft"
  max_tokens: 1800
  temperature: 0.6
  top_p: 0.9
  repetition_penalty: 1.1
  # extra fields merged into every request body
  # extra:
  #   min_p: 0.05
  timeout: "5m"
  # requests_per_second: 4

# Token to audio decoder
codec:
  # "http" posts token windows to url; "exec" runs command
  kind: "http"
  url: "http://127.0.0.1:8081/decode"
  # command: "~/bin/snac-decode"
  # args: []
  timeout: "10s"

# Chat model for chat mode. Leave model empty to disable chat mode.
chat:
  base_url: "https://api.openai.com/v1"
  model: ""
  api_key_env: "OPENAI_API_KEY"
  # system_prompt_file: "~/.config/orpheus/system.txt"
  timeout: "3m"

audio:
  buffer_seconds: 60
  put_timeout: "100ms"
  device_buffer: "100ms"
  stall_threshold: "500ms"
  disabled: false

segmenter:
  max_words: 25
  # abbreviations replace the built-in list when set
  # abbreviations: ["Mr.", "Mrs.", "Dr."]

save:
  # defaults to ~/Documents, then the working directory
  dir: ""

cache:
  enabled: false
  dir: ""
  max_size_mb: 256

log_level: "info"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the orpheus config file",
	Long:    paragraph(fmt.Sprintf("\n%s the orpheus config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("orpheus config\norpheus config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		// An invalid file must still be editable.
		return nil
	},
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Orpheus", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
