package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateUSD float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-buy",
	Short: "模拟一笔指定金额的买单并发送告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateUSD <= 0 {
			return errors.New("--usd 必须大于 0")
		}

		return getApp().SimulateBuy(cmd.Context(), decimal.NewFromFloat(simulateUSD))
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateUSD, "usd", 150, "模拟买单的美元金额")
}
