package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type (
	// Server holds network and storage endpoints.
	Server struct {
		Listen    string
		MongoURI  string
		MongoDB   string
		RedisAddr string
	}

	// Protocol holds the delivery protocol tunables.
	Protocol struct {
		EditWindow        duration
		IdempotencyWindow duration
		SendBuffer        int
		SweepInterval     duration
	}

	// Cosigner names one STH signer. Seed is the hex-encoded Ed25519 seed;
	// cosigners without a seed are verify-only.
	Cosigner struct {
		ID     string
		Seed   string
		Public string
	}

	// Token is one pre-issued bearer credential. The real deployment swaps
	// the static table for the external credential service.
	Token struct {
		Token    string
		DeviceID string
		UserID   string
	}

	// Room is one statically configured room membership set.
	Room struct {
		ID      string
		Members []string
	}

	Config struct {
		Server    Server
		Protocol  Protocol
		Cosigners []Cosigner
		Tokens    []Token
		Rooms     []Room
	}

	duration struct {
		time.Duration
	}
)

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads a TOML config file and applies defaults and validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) FixupAndValidate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "localhost:9090"
	}
	if c.Server.MongoURI == "" {
		c.Server.MongoURI = "mongodb://localhost:27017"
	}
	if c.Server.MongoDB == "" {
		c.Server.MongoDB = "veilchat"
	}
	if c.Server.RedisAddr == "" {
		c.Server.RedisAddr = "localhost:6379"
	}
	if c.Protocol.EditWindow.Duration == 0 {
		c.Protocol.EditWindow.Duration = 15 * time.Minute
	}
	if c.Protocol.IdempotencyWindow.Duration == 0 {
		c.Protocol.IdempotencyWindow.Duration = 30 * time.Second
	}
	if c.Protocol.SendBuffer == 0 {
		c.Protocol.SendBuffer = 256
	}
	if c.Protocol.SweepInterval.Duration == 0 {
		c.Protocol.SweepInterval.Duration = time.Minute
	}
	if len(c.Cosigners) > 3 {
		return fmt.Errorf("at most 3 cosigners, got %d", len(c.Cosigners))
	}
	for _, tok := range c.Tokens {
		if tok.Token == "" || tok.DeviceID == "" || tok.UserID == "" {
			return fmt.Errorf("token entries need token, device id, and user id")
		}
	}
	for _, room := range c.Rooms {
		if room.ID == "" {
			return fmt.Errorf("room entry missing id")
		}
	}
	seen := make(map[string]bool)
	for _, cs := range c.Cosigners {
		if cs.ID == "" {
			return fmt.Errorf("cosigner missing id")
		}
		if seen[cs.ID] {
			return fmt.Errorf("duplicate cosigner id %q", cs.ID)
		}
		seen[cs.ID] = true
		if cs.Seed == "" && cs.Public == "" {
			return fmt.Errorf("cosigner %q needs a seed or a public key", cs.ID)
		}
	}
	return nil
}

// EditWindowDuration is the accessor used by the gateway.
func (c *Config) EditWindowDuration() time.Duration { return c.Protocol.EditWindow.Duration }

// IdempotencyWindowDuration is the ledger TTL for message ids.
func (c *Config) IdempotencyWindowDuration() time.Duration {
	return c.Protocol.IdempotencyWindow.Duration
}
