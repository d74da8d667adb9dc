// Package config собирает настройки агента из значений по умолчанию, TOML файла, флагов и окружения.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInvalidPeers возвращается для некорректного списка собеседников
var ErrInvalidPeers = errors.New("invalid peers list")

// Config содержит настройки приложения
type Config struct {
	RunAddr               string            `toml:"server_address"`
	GRPCAddr              string            `toml:"grpc_address"`
	BaseURL               string            `toml:"base_url"`
	FileStoragePath       string            `toml:"file_storage_path"`
	DatabaseDSN           string            `toml:"database_dsn"`
	JWTSecret             string            `toml:"jwt_secret"`
	AgentID               string            `toml:"agent_id"`
	Peers                 map[string]string `toml:"peers"`
	TrustedSubnet         string            `toml:"trusted_subnet"`
	LogLevel              string            `toml:"log_level"`
	LegacySlugProblemCode bool              `toml:"legacy_slug_problem_code"`
}

// Default возвращает настройки по умолчанию
func Default() *Config {
	return &Config{
		RunAddr:   ":8080",
		GRPCAddr:  ":3200",
		BaseURL:   "http://localhost:8080",
		JWTSecret: "default_jwt_secret",
		AgentID:   "agent",
		Peers:     map[string]string{},
		LogLevel:  "info",
	}
}

// NewConfig читает настройки из аргументов командной строки и окружения процесса
func NewConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

// Load собирает настройки. Приоритет: окружение, флаги, файл, значения по умолчанию.
func Load(args []string, getenv func(string) string) (*Config, error) {
	def := Default()
	var (
		flags      Config
		configPath string
		peers      string
	)

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.StringVar(&configPath, "c", "", "path to TOML config file")
	fs.StringVar(&flags.RunAddr, "a", def.RunAddr, "address and port to run HTTP server")
	fs.StringVar(&flags.GRPCAddr, "g", def.GRPCAddr, "address and port to run gRPC server")
	fs.StringVar(&flags.BaseURL, "b", def.BaseURL, "base URL for shortened links")
	fs.StringVar(&flags.FileStoragePath, "f", "", "path to file for storing negotiations")
	fs.StringVar(&flags.DatabaseDSN, "d", "", "database DSN for PostgreSQL")
	fs.StringVar(&flags.JWTSecret, "j", def.JWTSecret, "JWT secret shared with peers")
	fs.StringVar(&flags.AgentID, "n", def.AgentID, "agent ID presented to peers")
	fs.StringVar(&peers, "p", "", "peers as id=host:port,...")
	fs.StringVar(&flags.TrustedSubnet, "t", "", "trusted subnet for admin API in CIDR notation")
	fs.StringVar(&flags.LogLevel, "l", def.LogLevel, "log level")
	fs.BoolVar(&flags.LegacySlugProblemCode, "legacy-slug-code", false, "report invalid slugs as invalid-goal-code")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := def
	if path := getenv("CONFIG"); path != "" {
		configPath = path
	}
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.RunAddr = flags.RunAddr
		case "g":
			cfg.GRPCAddr = flags.GRPCAddr
		case "b":
			cfg.BaseURL = flags.BaseURL
		case "f":
			cfg.FileStoragePath = flags.FileStoragePath
		case "d":
			cfg.DatabaseDSN = flags.DatabaseDSN
		case "j":
			cfg.JWTSecret = flags.JWTSecret
		case "n":
			cfg.AgentID = flags.AgentID
		case "p":
			cfg.Peers, err = ParsePeers(peers)
		case "t":
			cfg.TrustedSubnet = flags.TrustedSubnet
		case "l":
			cfg.LogLevel = flags.LogLevel
		case "legacy-slug-code":
			cfg.LegacySlugProblemCode = flags.LegacySlugProblemCode
		}
	})
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	cfg.RunAddr = validateAddress(cfg.RunAddr)
	cfg.GRPCAddr = validateAddress(cfg.GRPCAddr)
	cfg.BaseURL = validateBaseURL(cfg.BaseURL)

	if cfg.FileStoragePath != "" {
		// Создаём директорию для файла, если она не существует
		if err := os.MkdirAll(filepath.Dir(cfg.FileStoragePath), 0755); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"SERVER_ADDRESS":    &cfg.RunAddr,
		"GRPC_ADDRESS":      &cfg.GRPCAddr,
		"BASE_URL":          &cfg.BaseURL,
		"FILE_STORAGE_PATH": &cfg.FileStoragePath,
		"DATABASE_DSN":      &cfg.DatabaseDSN,
		"JWT_SECRET":        &cfg.JWTSecret,
		"AGENT_ID":          &cfg.AgentID,
		"TRUSTED_SUBNET":    &cfg.TrustedSubnet,
		"LOG_LEVEL":         &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	if v := getenv("PEERS"); v != "" {
		peers, err := ParsePeers(v)
		if err != nil {
			return err
		}
		cfg.Peers = peers
	}

	if v := getenv("LEGACY_SLUG_PROBLEM_CODE"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEGACY_SLUG_PROBLEM_CODE: %w", err)
		}
		cfg.LegacySlugProblemCode = enabled
	}
	return nil
}

// ParsePeers разбирает список собеседников вида id=host:port,id2=host2:port
func ParsePeers(s string) (map[string]string, error) {
	peers := make(map[string]string)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, addr, ok := strings.Cut(item, "=")
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPeers, item)
		}
		peers[id] = addr
	}
	return peers, nil
}

func validateAddress(addr string) string {
	if !strings.Contains(addr, ":") {
		return ":" + addr
	}
	return addr
}

func validateBaseURL(url string) string {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}
