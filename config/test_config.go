package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestConfig holds the settings of the live-node integration tests
type TestConfig struct {
	RPCURL       string   `json:"rpcURL" yaml:"rpcURL"`
	ContractPath string   `json:"contractPath" yaml:"contractPath"`
	Rounds       int      `json:"rounds" yaml:"rounds"`
	PrivateKey   string   `json:"privateKey" yaml:"privateKey"`
	DBConfig     DBConfig `json:"dbConfig" yaml:"dbConfig"`

	Scenario string `json:"scenario" yaml:"scenario"`
}

// TestConfigFile is the on-disk layout of an integration test config
type TestConfigFile struct {
	Default   TestConfig            `json:"default" yaml:"default"`
	Scenarios map[string]TestConfig `json:"scenarios" yaml:"scenarios"`
}

var defaultTestConfig = TestConfig{
	Rounds: 1,
	DBConfig: DBConfig{
		Port: 5432,
		Name: "minifuzz",
	},
	Scenario: "default",
}

var defaultTestConfigPaths = []string{
	"conf/test_config.yaml",
	"conf/test_config.yml",
	"test_config.yaml",
	"test_config.yml",
	"test_config.json",
}

// LoadTestConfig loads the integration test config.
// Priority: environment variables > config file > defaults.
// An empty RPCURL means no live node is available.
func LoadTestConfig() (*TestConfig, error) {
	return LoadTestConfigForScenario(os.Getenv("MINIFUZZ_TEST_SCENARIO"))
}

// LoadTestConfigForScenario loads the integration test config for a named scenario
func LoadTestConfigForScenario(scenario string) (*TestConfig, error) {
	config := defaultTestConfig

	configPath := os.Getenv("MINIFUZZ_TEST_CONFIG")
	if configPath == "" {
		for _, path := range defaultTestConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath != "" {
		fileConfig, err := loadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}

		if scenario != "" && scenario != "default" {
			scenarioConfig, ok := fileConfig.Scenarios[scenario]
			if !ok {
				return nil, fmt.Errorf("scenario '%s' not found in config file", scenario)
			}
			mergeConfig(&config, &scenarioConfig)
		} else {
			mergeConfig(&config, &fileConfig.Default)
		}
	}

	config.RPCURL = getStringValue("MINIFUZZ_TEST_RPC_URL", config.RPCURL)
	config.ContractPath = getStringValue("MINIFUZZ_TEST_CONTRACT", config.ContractPath)
	config.PrivateKey = getStringValue("MINIFUZZ_TEST_PRIVATE_KEY", config.PrivateKey)
	config.Rounds = getIntValue("MINIFUZZ_TEST_ROUNDS", config.Rounds)

	config.DBConfig.Host = getStringValue("MINIFUZZ_TEST_DB_HOST", config.DBConfig.Host)
	config.DBConfig.Port = getIntValue("MINIFUZZ_TEST_DB_PORT", config.DBConfig.Port)
	config.DBConfig.Name = getStringValue("MINIFUZZ_TEST_DB_NAME", config.DBConfig.Name)
	config.DBConfig.User = getStringValue("MINIFUZZ_TEST_DB_USER", config.DBConfig.User)
	config.DBConfig.Password = getStringValue("MINIFUZZ_TEST_DB_PASSWORD", config.DBConfig.Password)

	return &config, nil
}

// GetDSN returns the postgres connection string of the test database
func (tc *TestConfig) GetDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		tc.DBConfig.Host,
		tc.DBConfig.User,
		tc.DBConfig.Password,
		tc.DBConfig.Name,
		tc.DBConfig.Port,
	)
}

func loadConfigFromFile(path string) (*TestConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config TestConfigFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return &config, nil
}

func mergeConfig(target, source *TestConfig) {
	if source.RPCURL != "" {
		target.RPCURL = source.RPCURL
	}
	if source.ContractPath != "" {
		target.ContractPath = source.ContractPath
	}
	if source.Rounds != 0 {
		target.Rounds = source.Rounds
	}
	if source.PrivateKey != "" {
		target.PrivateKey = source.PrivateKey
	}
	if source.Scenario != "" {
		target.Scenario = source.Scenario
	}

	if source.DBConfig.Host != "" {
		target.DBConfig.Host = source.DBConfig.Host
	}
	if source.DBConfig.Port != 0 {
		target.DBConfig.Port = source.DBConfig.Port
	}
	if source.DBConfig.Name != "" {
		target.DBConfig.Name = source.DBConfig.Name
	}
	if source.DBConfig.User != "" {
		target.DBConfig.User = source.DBConfig.User
	}
	if source.DBConfig.Password != "" {
		target.DBConfig.Password = source.DBConfig.Password
	}
}

func getStringValue(envVar, defaultValue string) string {
	if envValue := os.Getenv(envVar); envValue != "" {
		return envValue
	}
	return defaultValue
}

func getIntValue(envVar string, defaultValue int) int {
	if envValue := os.Getenv(envVar); envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}
