package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/db"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行一次读写删除。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		if err := db.CheckRedis(cmd.Context(), client); err != nil {
			return err
		}
		fmt.Println("Redis读写测试成功！")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
