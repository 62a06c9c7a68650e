// Package config loads the tunables the distilled spec left to "CLI,
// configuration, logging, startup: not covered" -- pool sizes, swap
// capacity, and the user-space layout constants -- via Viper, bindable
// from environment variables, a config file, or flags supplied by
// cmd/vmcore.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable the frame table, swap area, and fault
// resolver need at construction time.
type Config struct {
	FrameCount       int    `mapstructure:"frame_count"`
	SwapSlots        int    `mapstructure:"swap_slots"`
	PageSize         int    `mapstructure:"page_size"`
	MaxStackPages    int    `mapstructure:"max_stack_pages"`
	StackFaultWindow int    `mapstructure:"stack_fault_window"`
	UserTop          uint64 `mapstructure:"user_top"`
	SwapImagePath    string `mapstructure:"swap_image_path"`
	LogLevel         string `mapstructure:"log_level"`
}

// Defaults matches the spec's literal design defaults: 1024 swap slots (8
// MiB), a 2048-page (8 MiB) stack cap, 4096 B pages, and the 0xc0000000
// user/kernel boundary.
func Defaults() Config {
	return Config{
		FrameCount:       32,
		SwapSlots:        1024,
		PageSize:         4096,
		MaxStackPages:    2048,
		StackFaultWindow: 32,
		UserTop:          0xc0000000,
		SwapImagePath:    "",
		LogLevel:         "info",
	}
}

// Load builds a Viper instance seeded with Defaults, then layers in an
// optional config file and VMCORE_-prefixed environment variables, the
// same precedence order the corpus's Viper-backed config code uses
// (defaults < file < env).
func Load(configFile string) (Config, error) {
	def := Defaults()

	v := viper.New()
	v.SetEnvPrefix("vmcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("frame_count", def.FrameCount)
	v.SetDefault("swap_slots", def.SwapSlots)
	v.SetDefault("page_size", def.PageSize)
	v.SetDefault("max_stack_pages", def.MaxStackPages)
	v.SetDefault("stack_fault_window", def.StackFaultWindow)
	v.SetDefault("user_top", def.UserTop)
	v.SetDefault("swap_image_path", def.SwapImagePath)
	v.SetDefault("log_level", def.LogLevel)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.PageSize != 4096 {
		return Config{}, fmt.Errorf("config: page_size must be 4096, got %d", cfg.PageSize)
	}
	if cfg.MaxStackPages > 2048 {
		return Config{}, fmt.Errorf("config: max_stack_pages must be <= 2048, got %d", cfg.MaxStackPages)
	}
	if cfg.FrameCount <= 0 {
		return Config{}, fmt.Errorf("config: frame_count must be positive, got %d", cfg.FrameCount)
	}
	if cfg.SwapSlots <= 0 {
		return Config{}, fmt.Errorf("config: swap_slots must be positive, got %d", cfg.SwapSlots)
	}
	return cfg, nil
}
