package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func Default() Config {
	return Config{
		NCPU:        8,
		PageSize:    4096,
		MemoryPages: 256,
		NBuf:        30,
		NBucket:     13,
		BlockSize:   1024,
		Disks:       map[uint32]string{},
	}
}

// Load reads a YAML config file. Fields missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.NCPU < 1:
		return fmt.Errorf("ncpu must be positive, got %d", c.NCPU)
	case c.PageSize < 1 || c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("page_size must be a power of two, got %d", c.PageSize)
	case c.MemoryPages < 1:
		return fmt.Errorf("memory_pages must be positive, got %d", c.MemoryPages)
	case c.NBuf < 1:
		return fmt.Errorf("nbuf must be positive, got %d", c.NBuf)
	case c.NBuf < c.NCPU:
		return fmt.Errorf("nbuf must be at least ncpu (%d), got %d", c.NCPU, c.NBuf)
	case c.NBucket < 1:
		return fmt.Errorf("nbucket must be positive, got %d", c.NBucket)
	case c.BlockSize < 1 || c.BlockSize > c.PageSize:
		return fmt.Errorf("block_size must be in [1, page_size], got %d", c.BlockSize)
	}

	return nil
}

type Config struct {
	NCPU        int               `yaml:"ncpu"`
	PageSize    int               `yaml:"page_size"`
	MemoryPages int               `yaml:"memory_pages"`
	NBuf        int               `yaml:"nbuf"`
	NBucket     int               `yaml:"nbucket"`
	BlockSize   int               `yaml:"block_size"`
	Disks       map[uint32]string `yaml:"disks"`
}
