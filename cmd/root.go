/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"
	"os"

	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "task-autopilot",
	Short: "Autonomous task orchestration service",
	Long: `Task Autopilot watches operational state, turns matching rules into
task proposals, routes them through human or automatic approval,
and executes approved tasks against the ERP domain services.
Every decision is recorded in an append-only audit log.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: search in current directory, ./config, or $HOME/.task-autopilot)")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 加载配置并按配置初始化默认日志记录器
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.NewFromConfig(&cfg.Log)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, configPath, nil
}
