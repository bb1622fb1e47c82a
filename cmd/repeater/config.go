package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matst80/vncrepeater/internal/proto"
)

// Config holds all runtime configuration. Defaults come from the
// ULTRAVNC_REPEATER_* environment, flags override the environment, and an
// optional TOML file (-config) fills in anything not given on the command
// line.
type Config struct {
	ClientPort int
	ServerPort int
	BufSize    int
	Refuse     bool
	Clean      bool
	NoRFB      bool
	Loop       string
	LogFile    string
	PidFile    string
	ConfigFile string

	InitTimeout   time.Duration
	SelectTimeout time.Duration
	DialTimeout   time.Duration

	MetricsAddr string
	Debug       bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ConnRate     int
	PeerConnRate int
	ConnBurst    int
}

var cfg Config

func init() {
	flag.IntVar(&cfg.ClientPort, "c", envInt("ULTRAVNC_REPEATER_CLIENT_PORT", 5900), "client (viewer) listen port")
	flag.IntVar(&cfg.ServerPort, "s", envInt("ULTRAVNC_REPEATER_SERVER_PORT", 5500), "server listen port")
	flag.IntVar(&cfg.BufSize, "b", envInt("ULTRAVNC_REPEATER_BUFSIZE", proto.DefaultBlockSize), "handshake block size in bytes")
	flag.BoolVar(&cfg.Refuse, "r", envBool("ULTRAVNC_REPEATER_REFUSE", false), "refuse a second same-role connection for an occupied id instead of replacing the first")
	flag.BoolVar(&cfg.Clean, "C", envBool("ULTRAVNC_REPEATER_CLEAN", true), "periodically evict parked connections whose peer is gone")
	flag.BoolVar(&cfg.NoRFB, "R", envBool("ULTRAVNC_REPEATER_NO_RFB", false), "suppress the RFB banner to clients")
	flag.StringVar(&cfg.Loop, "L", os.Getenv("ULTRAVNC_REPEATER_LOOP"), "respawn mode: 1 restarts a crashed dispatcher, BG additionally detaches from the terminal")
	flag.StringVar(&cfg.LogFile, "l", os.Getenv("ULTRAVNC_REPEATER_LOGFILE"), "append log output to this file")
	flag.StringVar(&cfg.PidFile, "p", os.Getenv("ULTRAVNC_REPEATER_PIDFILE"), "write the process id to this file")
	flag.StringVar(&cfg.ConfigFile, "config", "", "optional TOML config file")
	flag.DurationVar(&cfg.InitTimeout, "init-timeout", 5*time.Second, "deadline for the handshake block read")
	flag.DurationVar(&cfg.SelectTimeout, "select-timeout", 15*time.Second, "dispatcher tick interval driving the liveness sweep")
	flag.DurationVar(&cfg.DialTimeout, "dial-timeout", 10*time.Second, "deadline per direct dial attempt")
	flag.StringVar(&cfg.MetricsAddr, "metrics", ":9100", "metrics and health listen address")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "optional redis address for a shared multi-instance state view")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	flag.IntVar(&cfg.ConnRate, "max-conn-rate", 0, "global accepted connections per second (0 = unlimited)")
	flag.IntVar(&cfg.PeerConnRate, "max-peer-conn-rate", 0, "accepted connections per second per remote IP (0 = unlimited)")
	flag.IntVar(&cfg.ConnBurst, "conn-burst", 10, "rate limiter burst size")
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	switch os.Getenv(key) {
	case "":
		return def
	case "0", "false", "no":
		return false
	}
	return true
}

// fileConfig mirrors the file-settable part of Config; pointers distinguish
// absent keys from zero values.
type fileConfig struct {
	ClientPort    *int    `toml:"client_port"`
	ServerPort    *int    `toml:"server_port"`
	BufSize       *int    `toml:"bufsize"`
	Refuse        *bool   `toml:"refuse"`
	Clean         *bool   `toml:"clean"`
	NoRFB         *bool   `toml:"no_rfb"`
	Loop          *string `toml:"loop"`
	LogFile       *string `toml:"logfile"`
	PidFile       *string `toml:"pidfile"`
	MetricsAddr   *string `toml:"metrics"`
	RedisAddr     *string `toml:"redis"`
	InitTimeout   *string `toml:"init_timeout"`
	SelectTimeout *string `toml:"select_timeout"`
}

// applyFile merges the TOML config file into c. Explicitly passed flags win
// over file values.
func (c *Config) applyFile(explicit map[string]bool) error {
	if c.ConfigFile == "" {
		return nil
	}
	var fc fileConfig
	if _, err := toml.DecodeFile(c.ConfigFile, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", c.ConfigFile, err)
	}
	setInt := func(flagName string, dst *int, src *int) {
		if src != nil && !explicit[flagName] {
			*dst = *src
		}
	}
	setBool := func(flagName string, dst *bool, src *bool) {
		if src != nil && !explicit[flagName] {
			*dst = *src
		}
	}
	setStr := func(flagName string, dst *string, src *string) {
		if src != nil && !explicit[flagName] {
			*dst = *src
		}
	}
	setDur := func(flagName string, dst *time.Duration, src *string) error {
		if src == nil || explicit[flagName] {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", c.ConfigFile, flagName, err)
		}
		*dst = d
		return nil
	}
	setInt("c", &c.ClientPort, fc.ClientPort)
	setInt("s", &c.ServerPort, fc.ServerPort)
	setInt("b", &c.BufSize, fc.BufSize)
	setBool("r", &c.Refuse, fc.Refuse)
	setBool("C", &c.Clean, fc.Clean)
	setBool("R", &c.NoRFB, fc.NoRFB)
	setStr("L", &c.Loop, fc.Loop)
	setStr("l", &c.LogFile, fc.LogFile)
	setStr("p", &c.PidFile, fc.PidFile)
	setStr("metrics", &c.MetricsAddr, fc.MetricsAddr)
	setStr("redis", &c.RedisAddr, fc.RedisAddr)
	if err := setDur("init-timeout", &c.InitTimeout, fc.InitTimeout); err != nil {
		return err
	}
	return setDur("select-timeout", &c.SelectTimeout, fc.SelectTimeout)
}

func (c *Config) validate() error {
	if c.ClientPort <= 0 || c.ClientPort > 65535 {
		return fmt.Errorf("client port out of range: %d", c.ClientPort)
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server port out of range: %d", c.ServerPort)
	}
	if c.BufSize < 0 {
		return fmt.Errorf("bufsize must not be negative: %d", c.BufSize)
	}
	switch c.Loop {
	case "", "1", "BG":
	default:
		return fmt.Errorf("loop mode must be 1 or BG, got %q", c.Loop)
	}
	return nil
}

func explicitFlags() map[string]bool {
	m := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
