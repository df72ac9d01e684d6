// Package main validates a configuration file and prints the subscription
// it would issue, without connecting anywhere. Credentials are never
// printed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	checkWallet := flag.Bool("check-wallet", false, "Also load the wallet file and print its public key")
	flag.Parse()

	if err := run(*configPath, *checkWallet); err != nil {
		fmt.Fprintln(os.Stderr, "configcheck:", err)
		os.Exit(1)
	}
}

func run(configPath string, checkWallet bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	params, err := cfg.Subscription()
	if err != nil {
		return err
	}
	subscription, err := json.Marshal(params)
	if err != nil {
		return err
	}

	auth := "none"
	if cfg.Server.Authorization != "" {
		auth = "bearer token set"
	}
	transport := "wss"
	if cfg.Server.Insecure {
		transport = "ws"
	}

	fmt.Println("configuration OK")
	fmt.Printf("  server:         %s (%s)\n", cfg.Server.Address, transport)
	fmt.Printf("  authorization:  %s\n", auth)
	fmt.Printf("  subscription:   %s\n", subscription)
	fmt.Printf("  strategy:       %s\n", cfg.Strategy.Type)
	fmt.Printf("  rpc endpoint:   %s\n", cfg.Execution.RPCEndpoint)
	fmt.Printf("  quote endpoint: %s\n", cfg.Execution.QuoteEndpoint)
	fmt.Printf("  wallet file:    %s\n", cfg.Execution.WalletFile)

	if checkWallet {
		signer, err := wallet.Load(cfg.Execution.WalletFile)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		fmt.Printf("  public key:     %s\n", signer.PublicKey())
	}

	return nil
}
