// labyctl: 運用向けの管理コマンド（マイグレーション、アカウント作成、延滞確認、CSV 出力）
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/db"
)

// CLI は管理者として動く
var operator = auth.Identity{UserID: "labyctl", Role: auth.RoleAdmin, IsApproved: true}

type app struct {
	configPath string
	cfg        *db.Config
	conn       *sql.DB
}

func (a *app) open() error {
	cfg, err := db.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "mysql" {
		return errors.New("labyctl needs storage.driver=mysql")
	}
	conn, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}
	a.cfg, a.conn = cfg, conn
	return nil
}

func (a *app) close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func (a *app) inventory() *inventory.Service {
	return inventory.NewService(inventory.NewMySQLRepository(a.conn), inventory.Config{
		LowStockThreshold: a.cfg.Inventory.LowStockThreshold,
		Location:          a.cfg.Location(),
	})
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "labyctl",
		Short:         "laby-backend admin tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion":
				return nil
			}
			return a.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", db.DefaultConfigPath, "path to config.yaml")

	root.AddCommand(
		newMigrateCmd(a),
		newUserAddCmd(a),
		newOverdueCmd(a),
		newExportCmd(a),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
