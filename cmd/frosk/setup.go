package main

import (
	"fmt"
	"io"
	"os"

	"github.com/frosk-go/frosk/internal/config"
)

// writeDefaultConfig creates the config file on first run. An existing file
// is kept unless force is set.
func writeDefaultConfig(w io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	} else if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to check config file: %w", err)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	if err := cfg.ValidateTemplatePath(); err != nil {
		fmt.Fprintf(w, "Next: set template to your reference WAV (%v)\n", err)
	}
	return nil
}
