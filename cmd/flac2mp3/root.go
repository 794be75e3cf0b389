package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := newCommandContext(&configFlag)
	flags := &transcodeFlags{}

	rootCmd := &cobra.Command{
		Use:   "flac2mp3 [flags] [FILES...]",
		Short: "Transcode FLAC files to MP3 in parallel",
		Long: "Transcode FLAC files and directories to MP3 with lame, copying tags.\n" +
			"Directories are walked recursively; with --output-dir the source tree is\n" +
			"mirrored below the output directory.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			if _, err := ctx.ensureConfig(); err != nil {
				return &exitError{code: exitSetup, err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscode(cmd, ctx, flags, args)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Configuration file path")
	flags.register(rootCmd)

	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))

	return rootCmd
}
