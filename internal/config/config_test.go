package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
telegram:
  bot_token: "123:token"
  chat_id: -100111
  admin_chat_id: 222
explorer:
  api_key: "key"
  contract_address: "0xContract"
  watched_address: "0xWatched"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Monitor.PollInterval != 60*time.Second {
		t.Fatalf("默认轮询间隔应为 60s, 实际 %s", cfg.Monitor.PollInterval)
	}
	if cfg.Explorer.CacheTTL != 2*time.Minute {
		t.Fatalf("默认缓存窗口应为 2m, 实际 %s", cfg.Explorer.CacheTTL)
	}
	if cfg.Explorer.PageSize != 50 {
		t.Fatalf("默认分页应为 50, 实际 %d", cfg.Explorer.PageSize)
	}
	if got := cfg.Pricing.Sources; len(got) != 4 || got[0] != "gecko" || got[3] != "static" {
		t.Fatalf("默认价格来源链不正确: %v", got)
	}
	if len(cfg.Alert.ThresholdsUSD) != 3 || cfg.Alert.ThresholdsUSD[0] != 100 {
		t.Fatalf("默认阈值不正确: %v", cfg.Alert.ThresholdsUSD)
	}
	if cfg.Alert.MinUSD != 1 {
		t.Fatalf("默认最小金额应为 1, 实际 %v", cfg.Alert.MinUSD)
	}
	if cfg.Ledger.Path != "posted_transactions.txt" {
		t.Fatalf("默认账本路径不正确: %s", cfg.Ledger.Path)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("默认监听地址不正确: %s", cfg.Server.ListenAddr)
	}
}

func TestLoadRejectsMissingBotToken(t *testing.T) {
	content := strings.Replace(minimalYAML, `bot_token: "123:token"`, `bot_token: ""`, 1)
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("缺少 bot_token 时应报错")
	}
}

func TestLoadRejectsMissingExplorerKey(t *testing.T) {
	content := strings.Replace(minimalYAML, `api_key: "key"`, `api_key: ""`, 1)
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("缺少 explorer.api_key 时应报错")
	}
}

func TestLoadRejectsUnsortedThresholds(t *testing.T) {
	content := minimalYAML + `
alert:
  thresholds_usd: [500, 100, 1000]
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("阈值乱序时应报错")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	content := minimalYAML + `
monitor:
  poll_interval: 30s
  start_tracking: true
alert:
  token_symbol: "XYZ"
  min_usd: 5
pricing:
  sources: ["gecko", "static"]
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Monitor.PollInterval != 30*time.Second {
		t.Fatalf("轮询间隔覆盖失败: %s", cfg.Monitor.PollInterval)
	}
	if !cfg.Monitor.StartTracking {
		t.Fatal("start_tracking 覆盖失败")
	}
	if cfg.Alert.TokenSymbol != "XYZ" || cfg.Alert.MinUSD != 5 {
		t.Fatalf("alert 覆盖失败: %+v", cfg.Alert)
	}
	if len(cfg.Pricing.Sources) != 2 {
		t.Fatalf("价格来源覆盖失败: %v", cfg.Pricing.Sources)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 1000}}
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Fatalf("未覆盖时应用配置值, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Fatalf("覆盖值应优先, 实际 %d", got)
	}
}
