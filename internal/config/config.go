package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Engine struct {
		DataDir         string
		ListenPort      int
		Seed            bool
		MaxDownloadRate int64
		MaxUploadRate   int64
		BoostConns      int
		SeedConns       int
		Trackers        []string
	}
	Monitor struct {
		Interval time.Duration
	}
	Hub struct {
		QueueSize int
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("TORRENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/torrentd.db")
	v.SetDefault("engine.datadir", "data/downloads")
	v.SetDefault("engine.listenport", 42069)
	v.SetDefault("engine.seed", true)
	v.SetDefault("engine.maxdownloadrate", 0)
	v.SetDefault("engine.maxuploadrate", 0)
	v.SetDefault("engine.boostconns", 300)
	v.SetDefault("engine.seedconns", 400)
	v.SetDefault("engine.trackers", []string{})
	v.SetDefault("monitor.interval", "500ms")
	v.SetDefault("hub.queuesize", 16)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
