package cmd

import (
	"fmt"
	"time"

	"mvgen/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenClient string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发 API 访问令牌",
	Long:  `使用 JWT_SECRET 签发访问令牌，请求时放入 Authorization: Bearer <token>。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := auth.GenerateToken(cfg.JWTSecret, tokenClient, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenClient, "client", "c", "cli", "客户端名称")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "有效期")
	rootCmd.AddCommand(tokenCmd)
}
