package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/orpheus-tts/internal/app"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show segment cache usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dc, err := app.OpenCache(cfg, "")
		if err != nil {
			return fmt.Errorf("could not open segment cache: %w", err)
		}
		defer dc.Close() //nolint:errcheck

		st := dc.Stats()
		state := "enabled"
		if !cfg.Cache.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Segment cache is %s: %d entries, %s of %s\n",
			keyword(state), st.ItemCount, humanize.Bytes(uint64(st.Size)), humanize.Bytes(uint64(st.Capacity)))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached segment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dc, err := app.OpenCache(cfg, "")
		if err != nil {
			return fmt.Errorf("could not open segment cache: %w", err)
		}
		n := dc.Stats().ItemCount
		if err := dc.Clear(); err != nil {
			_ = dc.Close()
			return fmt.Errorf("could not clear segment cache: %w", err)
		}
		if err := dc.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached segments\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}
