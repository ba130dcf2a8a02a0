package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Check the proxy that guards downloads",
}

var proxyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Look up the exit IP once and compare it with expected_ip",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{ProxyAddress: flagProxy})
		if err != nil {
			return err
		}
		defer closeApp()

		pc := a.Monitor.Config()
		if !pc.Enabled {
			fmt.Println("Kill switch is disabled; checking the direct connection.")
		} else {
			fmt.Printf("Proxy:    %s\n", pc.ProxyURL)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ip, err := a.Monitor.CheckNow(ctx)
		if ip != "" {
			fmt.Printf("Exit IP:  %s\n", ip)
		}
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		if pc.ExpectedIP != "" {
			fmt.Println("Exit IP matches expected_ip.")
		}
		return nil
	},
}

var proxyWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the kill-switch monitor and print every state change",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{ProxyAddress: flagProxy})
		if err != nil {
			return err
		}
		defer closeApp()

		ctx, cancel := util.InterruptContext(context.Background())
		defer cancel()

		ch, unsubscribe := a.Monitor.Subscribe()
		defer unsubscribe()

		a.Start(ctx)
		fmt.Printf("%s  %s\n", time.Now().Format(time.TimeOnly), a.Monitor.State())

		for {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-ch:
				if !ok {
					return nil
				}
				_, ip, lastErr := a.Monitor.Snapshot()
				line := fmt.Sprintf("%s  %s", time.Now().Format(time.TimeOnly), s)
				if ip != "" {
					line += "  ip=" + ip
				}
				if lastErr != nil && !s.Allows() {
					line += "  err=" + lastErr.Error()
				}
				fmt.Println(line)
			}
		}
	},
}

func init() {
	proxyCmd.PersistentFlags().StringVar(&flagProxy, "proxy", "", "proxy address, overrides the config")
	proxyCmd.AddCommand(proxyCheckCmd, proxyWatchCmd)
	rootCmd.AddCommand(proxyCmd)
}
