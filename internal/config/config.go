// Package config содержит логику чтения конфигурации сервиса dearlove.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса dearlove.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	BackendAddress  string `env:"BACKEND_ADDRESS"`
	RealtimeAddress string `env:"REALTIME_ADDRESS"`
	StateFile       string `env:"STATE_FILE"`
	SettingsFile    string `env:"SETTINGS_FILE"`
	PaymentMethod   string `env:"PAYMENT_METHOD"`
	PriceVND        int64  `env:"PRICE_VND"`
	TipAmount       int64  `env:"TIP_AMOUNT"`
	VoucherCode     string `env:"VOUCHER_CODE"`
	ShareOrigin     string `env:"SHARE_ORIGIN"`
	SharePath       string `env:"SHARE_PATH"`
	OpenWebsiteID   string `env:"OPEN_WEBSITE_ID"`
	Free            bool   `env:"FREE_CREATION"`
	DevServer       bool   `env:"DEV_SERVER"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for the dev server")
	flag.StringVar(&cfg.BackendAddress, "b", "https://dearlove-backend.onrender.com", "backend API address")
	flag.StringVar(&cfg.RealtimeAddress, "w", "", "realtime channel address (defaults to the backend address)")
	flag.StringVar(&cfg.StateFile, "s", "", "session state file path")
	flag.StringVar(&cfg.SettingsFile, "f", "", "greeting settings JSON file")
	flag.StringVar(&cfg.PaymentMethod, "m", "PAYOS", "payment method (PAYOS or PAYPAL)")
	flag.Int64Var(&cfg.PriceVND, "p", 150000, "website price in VND")
	flag.Int64Var(&cfg.TipAmount, "t", 0, "tip amount in USD for PayPal")
	flag.StringVar(&cfg.VoucherCode, "v", "", "voucher code to apply")
	flag.StringVar(&cfg.ShareOrigin, "share-origin", "https://deargift.online", "origin for shareable links")
	flag.StringVar(&cfg.SharePath, "share-path", "/", "path for shareable links")
	flag.StringVar(&cfg.OpenWebsiteID, "open", "", "fetch and print a shared website by id instead of creating one")
	flag.BoolVar(&cfg.Free, "free", false, "create a free website without payment")
	flag.BoolVar(&cfg.DevServer, "dev", false, "run the backend emulator instead of a creation run")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.BackendAddress != "" {
		cfg.BackendAddress = envCfg.BackendAddress
	}
	if envCfg.RealtimeAddress != "" {
		cfg.RealtimeAddress = envCfg.RealtimeAddress
	}
	if envCfg.StateFile != "" {
		cfg.StateFile = envCfg.StateFile
	}
	if envCfg.SettingsFile != "" {
		cfg.SettingsFile = envCfg.SettingsFile
	}
	if envCfg.PaymentMethod != "" {
		cfg.PaymentMethod = envCfg.PaymentMethod
	}
	if envCfg.PriceVND != 0 {
		cfg.PriceVND = envCfg.PriceVND
	}
	if envCfg.TipAmount != 0 {
		cfg.TipAmount = envCfg.TipAmount
	}
	if envCfg.VoucherCode != "" {
		cfg.VoucherCode = envCfg.VoucherCode
	}
	if envCfg.ShareOrigin != "" {
		cfg.ShareOrigin = envCfg.ShareOrigin
	}
	if envCfg.SharePath != "" {
		cfg.SharePath = envCfg.SharePath
	}
	if envCfg.OpenWebsiteID != "" {
		cfg.OpenWebsiteID = envCfg.OpenWebsiteID
	}
	if envCfg.Free {
		cfg.Free = true
	}
	if envCfg.DevServer {
		cfg.DevServer = true
	}

	if cfg.RealtimeAddress == "" {
		cfg.RealtimeAddress = cfg.BackendAddress
	}
	if cfg.StateFile == "" {
		cfg.StateFile = defaultStateFile()
	}

	return cfg, nil
}

// defaultStateFile возвращает путь к файлу состояния в каталоге
// конфигурации пользователя.
func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "dearlove-state.json"
	}
	return filepath.Join(dir, "dearlove", "state.json")
}
