package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/config"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
)

// cfg 由 PersistentPreRunE 加载，子命令共用
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "animal-music",
	Short:         "Animal Music 是一个基于音频节点池的 Discord 音乐机器人。",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return logger.InitLogger(logger.Config{
			Level:      cfg.LogLevel,
			Console:    true,
			OutputPath: cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
