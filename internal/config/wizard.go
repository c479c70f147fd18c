package config

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/manifoldco/promptui"
)

// fieldPresets are the index field combinations offered by the wizard.
var fieldPresets = []struct {
	Label  string
	Fields []IndexField
}{
	{Label: "name, account, city (recommended)", Fields: []IndexField{FieldName, FieldAccount, FieldCity}},
	{Label: "name, city", Fields: []IndexField{FieldName, FieldCity}},
	{Label: "name, account, city, bank, branch", Fields: []IndexField{FieldName, FieldAccount, FieldCity, FieldBank, FieldBranch}},
}

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to vaultsearch! Let's configure your vault.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory for the encrypted store",
		Default: cfg.DataDir,
	}
	dataDir, err := dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	cfg.DataDir = dataDir
	cfg.Keys.File = filepath.Join(dataDir, "keys.yml")

	// 2. Port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Server.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("port must be between 1 and 65535")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	// 3. Indexed fields.
	labels := make([]string, len(fieldPresets))
	for i, p := range fieldPresets {
		labels[i] = p.Label
	}
	fieldPrompt := promptui.Select{
		Label: "Fields searchable by prefix",
		Items: labels,
	}
	idx, _, err := fieldPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("field selection: %w", err)
	}
	cfg.Index.Fields = append([]IndexField(nil), fieldPresets[idx].Fields...)

	// 4. Log format.
	formatPrompt := promptui.Select{
		Label: "Log format",
		Items: []string{string(LogFormatText), string(LogFormatJSON)},
	}
	_, format, err := formatPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("log format: %w", err)
	}
	cfg.Log.Format = LogFormat(format)

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

// Confirm asks a yes/no question and reports whether the user agreed.
func Confirm(label string) bool {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := p.Run()
	return err == nil
}
