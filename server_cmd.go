package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/orpheus-tts/internal/orpheus"
	"github.com/dgnsrekt/orpheus-tts/internal/prefs"
)

const pingTimeout = 15 * time.Second

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the Orpheus server answers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireServer(); err != nil {
			return err
		}
		client, err := orpheus.NewClient(cfg.OrpheusClientConfig())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
		defer cancel()

		res, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("orpheus server %s is not responding: %w", client.URL(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is online (%dms)\n", keyword(client.URL()), res.Latency.Milliseconds())
		return nil
	},
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the stock voices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		current := orpheus.DefaultVoice
		if path, err := prefs.DefaultPath(); err == nil {
			if store, err := prefs.Open(path, cfg.ChatEnabled(), nil); err == nil {
				current = store.Get().Voice
			}
		}

		out := cmd.OutOrStdout()
		for _, v := range append(append([]string{}, orpheus.StockVoices...), orpheus.RandomVoice) {
			switch {
			case v == current:
				fmt.Fprintf(out, "* %s\n", keyword(v))
			case v == orpheus.DefaultVoice:
				fmt.Fprintf(out, "  %s (default)\n", v)
			default:
				fmt.Fprintf(out, "  %s\n", v)
			}
		}
		if current != orpheus.RandomVoice && !orpheus.IsStockVoice(current) {
			fmt.Fprintf(out, "* %s (custom)\n", keyword(current))
		}
		return nil
	},
}
