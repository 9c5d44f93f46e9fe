package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Rrens/laundry-chat/internal/config"
	"github.com/Rrens/laundry-chat/internal/domain"
	"github.com/Rrens/laundry-chat/internal/security"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the laundry order chat",
	Long: `chatcli holds one realtime chat session for the current identity.

Commands inside the session:
  /login <userId>   switch identity (closes the previous session)
  /logout           drop the current session
  /chats            reload the chat list
  /join <orderId>   open the chat of an order
  /unread           show unread counts
  /quit             exit
Any other line is sent to the open chat.`,
	RunE: runSession,
}

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Mint a development access token with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.Auth.AccessTokenTTL
		}

		token, err := security.NewJWTManager(cfg.Auth.JWTSecret, ttl).GenerateAccessToken(args[0], domain.SenderRole(role))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.Flags().String("user", "", "Identity to log in as on start")
	rootCmd.Flags().String("server", "", "Chat backend URL (overrides client.server_url)")
	rootCmd.Flags().String("token", "", "Bearer token (overrides client.token)")

	tokenCmd.Flags().String("role", string(domain.RoleCustomer), "Role claim: customer or rider")
	tokenCmd.Flags().Duration("ttl", time.Duration(0), "Token lifetime (defaults to auth.access_token_ttl)")

	rootCmd.AddCommand(tokenCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
