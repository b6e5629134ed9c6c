// Command go-iview downloads an ABC iview HDS stream to a local FLV file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	iview "github.com/pabs3/go-iview"
)

var (
	cfgFile        string
	output         string
	resume         bool
	quiet          bool
	swfPath        string
	akamaiKey      string
	akamaiHDPlayer string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "go-iview",
		Short: "Download HDS video streams to FLV",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.go-iview.yaml)")
	root.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output")
	cobra.OnInitialize(initConfig)

	root.AddCommand(newFetchCommand())
	return root
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".go-iview")
		viper.AddConfigPath("$HOME")
	}
	viper.SetEnvPrefix("GO_IVIEW")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func newFetchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <manifest-url>",
		Short: "Fetch a stream named by its F4M manifest URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
	cmd.Flags().StringVarP(&output, "output", "o", "output.flv", `output file path, or "-" for stdout (disables resume)`)
	cmd.Flags().BoolVar(&resume, "resume", false, "fail if the output file can't be resumed, instead of starting over")
	cmd.Flags().StringVar(&swfPath, "swf", "", "path to an SWF player file for player-verification hashing")
	cmd.Flags().StringVar(&akamaiKey, "akamai-key", "", "static Akamai HD Network player-verification signing key")
	cmd.Flags().StringVar(&akamaiHDPlayer, "akamai-hd-player", "", "player string mixed into the player-verification token")
	_ = viper.BindPFlag("output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("resume", cmd.Flags().Lookup("resume"))
	_ = viper.BindPFlag("akamai-key", cmd.Flags().Lookup("akamai-key"))
	_ = viper.BindPFlag("akamai-hd-player", cmd.Flags().Lookup("akamai-hd-player"))
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	logger := newLogger(quiet)
	manifestURL := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var swf []byte
	if swfPath != "" {
		data, err := os.ReadFile(swfPath)
		if err != nil {
			return fmt.Errorf("reading swf file: %w", err)
		}
		swf = data
	}

	outPath := viper.GetString("output")
	session := iview.NewSession()
	opts := iview.FetchOptions{
		ManifestURL:    manifestURL,
		OutputPath:     outPath,
		Resume:         resume,
		SWF:            swf,
		AkamaiKey:      []byte(viper.GetString("akamai-key")),
		AkamaiHDPlayer: viper.GetString("akamai-hd-player"),
		OnProgress: func(p iview.FetchProgress) {
			if quiet {
				return
			}
			logger.Info("progress",
				slog.Int("fragments", p.FragmentsWritten),
				slog.Int64("bytes", p.BytesWritten),
				slog.Float64("duration_seconds", p.DurationSeconds),
			)
		},
	}

	if err := iview.Fetch(ctx, session, opts); err != nil {
		logger.Error("fetch failed", slog.Any("error", err))
		return err
	}
	logger.Info("fetch complete", slog.String("output", outPath))
	return nil
}

func newLogger(quiet bool) *slog.Logger {
	level := slog.LevelInfo
	if quiet {
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
