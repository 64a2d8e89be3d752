package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required variables that are missing
	Present  map[string]string // Variables that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig validates that the environment can run the server
// without a config file
func CheckRequiredConfig() *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	if os.Getenv("DATABASE_URL") == "" && os.Getenv("LEAGUECHAT_DATABASE_URL") == "" {
		result.Missing = append(result.Missing, "DATABASE_URL or LEAGUECHAT_DATABASE_URL")
	}
	if os.Getenv("LEAGUECHAT_AUTH_JWT_SECRET") == "" {
		result.Missing = append(result.Missing, "LEAGUECHAT_AUTH_JWT_SECRET")
	}

	for _, v := range []string{"DATABASE_URL", "LEAGUECHAT_DATABASE_URL", "LEAGUECHAT_AUTH_JWT_SECRET"} {
		if val := os.Getenv(v); val != "" {
			result.Present[v] = maskSecret(val)
		}
	}

	optionalVars := []string{
		"LEAGUECHAT_STORAGE_ROOT",
		"LEAGUECHAT_STORAGE_BASE_URL",
		"LEAGUECHAT_SERVER_PORT",
		"LEAGUECHAT_JOBS_ENABLED",
	}
	for _, v := range optionalVars {
		if val := os.Getenv(v); val != "" {
			result.Present[v] = val
		}
	}

	if secret := os.Getenv("LEAGUECHAT_AUTH_JWT_SECRET"); secret != "" && len(secret) < 16 {
		result.Warnings = append(result.Warnings, "LEAGUECHAT_AUTH_JWT_SECRET is shorter than 16 characters")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required variables:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		fmt.Println("✓ Configured variables:")
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// EnvCheckCommand reports which environment settings are present
func EnvCheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "env-check",
		Usage: "Check the environment for required settings",
		Action: func(c *cli.Context) error {
			if envFile := c.String("env-file"); envFile != "" {
				if err := LoadEnvFile(envFile); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", envFile, err)
				}
			}

			result := CheckRequiredConfig()
			PrintConfigCheck(result)
			if len(result.Missing) > 0 {
				return cli.Exit("missing required configuration", 1)
			}
			return nil
		},
	}
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
