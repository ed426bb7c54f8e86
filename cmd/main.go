package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/3Eeeecho/go-docstore/cmd/server"
	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/setup"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 先加载 .env，再由 viper 读取环境变量
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置出错: %w", err)
	}
	logger.InitLogger(logger.Options{
		OutputPath: cfg.Log.OutputPath,
		ErrorPath:  cfg.Log.ErrorPath,
		Level:      cfg.Log.Level,
		Encoding:   cfg.Log.Encoding,
	})
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:           "docstore",
	Short:         "Multi-tenant document store",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		logger.Info("启动文档服务...")
		srv, err := server.NewServer(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("无法启动应用程序: %w", err)
		}

		stopChan := make(chan os.Signal, 1)
		signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
		if err := srv.Run(stopChan); err != nil {
			return err
		}
		logger.Info("文档服务已退出。")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := setup.InitDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		defer setup.CloseDatabase(db)
		return setup.AutoMigrate(db)
	},
}

var (
	tokenDepartment   uint64
	tokenCapabilities string
	tokenTTL          time.Duration
)

// tokenCmd 本地调试用，正式环境由身份服务签发
var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a development access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || userID == 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		claims := utils.Claims{UserID: userID}
		if tokenDepartment != 0 {
			claims.DepartmentID = &tokenDepartment
		}
		for _, c := range strings.Split(tokenCapabilities, ",") {
			if c = strings.TrimSpace(c); c != "" {
				claims.Capabilities = append(claims.Capabilities, c)
			}
		}
		ttl := tokenTTL
		if ttl == 0 {
			ttl = cfg.JWT.ExpiresIn
		}

		token, err := utils.GenerateToken(claims, cfg.JWT.SecretKey, cfg.JWT.Issuer, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml, ./configs/config.yaml)")

	tokenCmd.Flags().Uint64Var(&tokenDepartment, "department", 0, "department id")
	tokenCmd.Flags().StringVar(&tokenCapabilities, "caps", "", "comma separated capabilities, e.g. files.delete,folders.delete")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: jwt.expires_in)")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
	rootCmd.SetContext(context.Background())
}
