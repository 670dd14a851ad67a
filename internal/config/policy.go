package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration парсит длительности вида "30m" из YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std возвращает стандартный time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// StorePolicy операционная политика магазина: рабочее окно, интервалы
// проверок, емкость приоритетной полосы и черный список продавцов
type StorePolicy struct {
	ProfileName       string   `yaml:"-"`
	WorkHoursStart    int      `yaml:"work_hours_start"`
	WorkHoursEnd      int      `yaml:"work_hours_end"`
	CheckInterval     Duration `yaml:"check_interval"`
	PriorityInterval  Duration `yaml:"priority_interval"`
	PriorityCapacity  int      `yaml:"priority_capacity"`
	ExcludedMerchants []string `yaml:"excluded_merchants"`
}

// LoadStorePolicy загружает политику магазина из YAML.
// Профиль выбирается через STORE_POLICY_PROFILE, по умолчанию default
func LoadStorePolicy(path string) (*StorePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config struct {
		StoreProfiles map[string]StorePolicy `yaml:"store_profiles"`
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	profileName := os.Getenv("STORE_POLICY_PROFILE")
	if profileName == "" {
		profileName = "default"
	}

	policy, ok := config.StoreProfiles[profileName]
	if !ok {
		return nil, fmt.Errorf("store profile %s not found", profileName)
	}

	policy.ProfileName = profileName
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("store profile %s: %w", profileName, err)
	}

	return &policy, nil
}

func (p *StorePolicy) validate() error {
	if p.WorkHoursStart < 0 || p.WorkHoursStart > 23 {
		return fmt.Errorf("work_hours_start must be 0-23, got %d", p.WorkHoursStart)
	}
	if p.WorkHoursEnd < 0 || p.WorkHoursEnd > 23 {
		return fmt.Errorf("work_hours_end must be 0-23, got %d", p.WorkHoursEnd)
	}
	if p.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %s", p.CheckInterval.Std())
	}
	if p.PriorityCapacity <= 0 {
		return fmt.Errorf("priority_capacity must be positive, got %d", p.PriorityCapacity)
	}
	return nil
}
