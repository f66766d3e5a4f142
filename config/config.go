// Package config holds the scenario file format for the stress CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one stress run: a protocol contended by a number of workers,
// repeated a number of times.
type Scenario struct {
	Protocol   string `yaml:"protocol"`
	Workers    int    `yaml:"workers"`
	Iterations int64  `yaml:"iterations"`
	Repeat     int    `yaml:"repeat"`
}

// Config is the configuration for the stress CLI.
type Config struct {
	MetricsAddress string     `yaml:"metrics_address"`
	Level          string     `yaml:"level"`
	Scenarios      []Scenario `yaml:"scenarios"`
}

// InitAndCreate writes a template scenario file covering all three protocols.
func InitAndCreate(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("InitAndCreate: os.Create: %w", err)
	}
	defer f.Close()
	cf := Config{
		Level: "info",
		Scenarios: []Scenario{
			{Protocol: "naive", Workers: 8, Iterations: 100000, Repeat: 3},
			{Protocol: "cas", Workers: 8, Iterations: 100000, Repeat: 3},
			{Protocol: "spin", Workers: 8, Iterations: 100000, Repeat: 3},
		},
	}
	encoder := yaml.NewEncoder(f)
	if err := encoder.Encode(&cf); err != nil {
		return fmt.Errorf("InitAndCreate: encoder.Encode: %w", err)
	}
	return encoder.Close()
}

func ReadAndParse(fileName string, config *Config) error {
	f, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("ReadAndParse: os.Open: %w", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(config); err != nil {
		return fmt.Errorf("ReadAndParse: decoder.Decode: %w", err)
	}
	return nil
}
