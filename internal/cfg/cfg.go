// Package cfg loads the bridge configuration: how to reach or launch the
// forest engine, call timeouts, the wire byte order, and local paths.
// Configuration comes from a YAML file (CONFIG_FILE), with environment
// variables taking precedence; a .env file is honored when present.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"forestbridge/internal/codec"
)

type Settings struct {
	EngineAddress  string
	EngineLaunch   []string // empty when the engine is managed externally
	StartupTimeout time.Duration
	RequestTimeout time.Duration
	ByteOrder      codec.ByteOrder
	DataPath       string
	MetricsPort    int
}

type ConfigFile struct {
	Engine struct {
		Address        string `yaml:"address"`
		Launch         string `yaml:"launch"`
		StartupTimeout string `yaml:"startupTimeout"`
		RequestTimeout string `yaml:"requestTimeout"`
		ByteOrder      string `yaml:"byteOrder"`
	} `yaml:"engine"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`
}

const (
	defaultAddress        = "http://127.0.0.1:4840"
	defaultStartupTimeout = 30 * time.Second
	defaultRequestTimeout = 2 * time.Minute
	defaultDataPath       = "data"
)

func Load() (Settings, error) {
	// A .env file is optional; real environment variables win either way.
	_ = godotenv.Load()

	var file ConfigFile
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	s := Settings{
		EngineAddress:  getEnv("FOREST_ENGINE_ADDR", orDefault(file.Engine.Address, defaultAddress)),
		StartupTimeout: parseDuration(getEnv("FOREST_ENGINE_STARTUP_TIMEOUT", file.Engine.StartupTimeout), defaultStartupTimeout),
		RequestTimeout: parseDuration(getEnv("FOREST_ENGINE_REQUEST_TIMEOUT", file.Engine.RequestTimeout), defaultRequestTimeout),
		ByteOrder:      codec.ByteOrder(getEnv("FOREST_BYTE_ORDER", orDefault(file.Engine.ByteOrder, string(codec.LittleEndian)))),
		DataPath:       getEnv("FOREST_DATA_PATH", orDefault(file.System.DataPath, defaultDataPath)),
		MetricsPort:    getEnvAsInt("FOREST_METRICS_PORT", file.System.MetricsPort),
	}
	if launch := getEnv("FOREST_ENGINE_LAUNCH", file.Engine.Launch); launch != "" {
		s.EngineLaunch = strings.Fields(launch)
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	if s.EngineAddress == "" {
		return fmt.Errorf("cfg: engine address must not be empty")
	}
	if s.ByteOrder != codec.LittleEndian && s.ByteOrder != codec.BigEndian {
		return fmt.Errorf("cfg: byte order must be %q or %q, got %q", codec.LittleEndian, codec.BigEndian, s.ByteOrder)
	}
	if s.MetricsPort < 0 || s.MetricsPort > 65535 {
		return fmt.Errorf("cfg: metrics port %d out of range", s.MetricsPort)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	if v, err := strconv.Atoi(getEnv(name, "")); err == nil {
		return v
	}
	return defaultVal
}

func parseDuration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
