/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jcheng510/coingame-sub001/internal/audit"
	"github.com/jcheng510/coingame-sub001/internal/config"
	"github.com/jcheng510/coingame-sub001/internal/database"
	"github.com/jcheng510/coingame-sub001/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rulesCmd represents the rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage automation rules",
}

// rulesImportCmd 导入规则
var rulesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import rules from a YAML file",
	Long: `Import rules from a YAML file with a top-level "rules" list.
All rules are validated before any is written; rules whose id already
exists are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read rule file: %w", err)
		}

		svc, closeDB, err := ruleService(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		actor, _ := cmd.Flags().GetString("actor")
		report, err := svc.Import(cmd.Context(), data, actor)
		if err != nil {
			return fmt.Errorf("failed to import rules: %w", err)
		}
		log.WithFields(logrus.Fields{
			"created": len(report.Created),
			"skipped": len(report.Skipped),
		}).Info("rules imported")

		return printJSON(cmd, report)
	},
}

// rulesListCmd 列出规则
var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		svc, closeDB, err := ruleService(cfg)
		if err != nil {
			return err
		}
		defer closeDB()

		all, _ := cmd.Flags().GetBool("all")
		list, err := svc.List(cmd.Context(), all)
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

// ruleService 连接数据库并创建规则服务
func ruleService(cfg *config.Config) (service.RuleService, func(), error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if err := database.Migrate(db); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return service.NewRuleService(db, audit.NewLog(db)), closeDB, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesListCmd)

	rulesImportCmd.Flags().String("actor", "cli", "Actor recorded in the audit log")
	rulesListCmd.Flags().Bool("all", false, "Include inactive rules")
}
