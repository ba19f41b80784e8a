package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/teamsync/internal/auth"
)

var (
	tokenUser     string
	tokenUsername string
	tokenDevice   string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for development",
	Long: `Issue a signed session token for auth.token. The signing secret is read
from the environment variable named by auth.secret_env (TEAMSYNC_JWT_SECRET by default).`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id (required)")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "username")
	tokenCmd.Flags().StringVar(&tokenDevice, "device", "", "device id (default: device.id from config)")
	tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg := &Config{}
	if _, err := os.Stat(configFile); err == nil {
		loaded, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.setDefaults()
	}

	secret := os.Getenv(cfg.Auth.SecretEnv)
	if secret == "" {
		return fmt.Errorf("%s environment variable is required", cfg.Auth.SecretEnv)
	}
	device := tokenDevice
	if device == "" {
		device = cfg.Device.ID
	}

	svc := auth.NewJWTService([]byte(secret), cfg.Auth.SessionTTL)
	token, err := svc.GenerateToken(tokenUser, tokenUsername, device)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}
