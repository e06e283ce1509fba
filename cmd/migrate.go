package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新 DJ 设置与前缀数据表",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.ConnectGormDB(cfg)
		if err != nil {
			return err
		}
		defer db.CloseGormDB(gdb)

		if err := db.AutoMigrate(gdb); err != nil {
			return err
		}
		fmt.Println("数据表迁移完成")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
