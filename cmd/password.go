package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/auth"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "生成面板登录用的 bcrypt 哈希（写入 DASHBOARD_PASSWORD_HASH）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "" {
			return errors.New("password must not be empty")
		}
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
