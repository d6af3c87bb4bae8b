// File: internal/config/humanoid_config.go
// HumanoidConfig holds the tunable parameters of the pointer emulation used for
// clicks and typing. The *Mean/*StdDev pairs describe a population; each
// session samples its own fixed persona from them.
package config

import "github.com/spf13/viper"

// HumanoidConfig configures the emulated cursor and keyboard.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Fitts's law movement time: MT = A + B*log2(1 + D/W), in milliseconds.
	FittsAMean   float64 `mapstructure:"fitts_a_mean" yaml:"fitts_a_mean"`
	FittsAStdDev float64 `mapstructure:"fitts_a_stddev" yaml:"fitts_a_stddev"`
	FittsBMean   float64 `mapstructure:"fitts_b_mean" yaml:"fitts_b_mean"`
	FittsBStdDev float64 `mapstructure:"fitts_b_stddev" yaml:"fitts_b_stddev"`

	// Tremor and drift.
	GaussianStrengthMean   float64 `mapstructure:"gaussian_strength_mean" yaml:"gaussian_strength_mean"`
	GaussianStrengthStdDev float64 `mapstructure:"gaussian_strength_stddev" yaml:"gaussian_strength_stddev"`
	PerlinAmplitudeMean    float64 `mapstructure:"perlin_amplitude_mean" yaml:"perlin_amplitude_mean"`
	PerlinAmplitudeStdDev  float64 `mapstructure:"perlin_amplitude_stddev" yaml:"perlin_amplitude_stddev"`

	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// Inter-key delay, in milliseconds.
	KeyPauseMean   float64 `mapstructure:"key_pause_mean" yaml:"key_pause_mean"`
	KeyPauseStdDev float64 `mapstructure:"key_pause_stddev" yaml:"key_pause_stddev"`
	KeyPauseMin    float64 `mapstructure:"key_pause_min" yaml:"key_pause_min"`

	FatigueIncreaseRate float64 `mapstructure:"fatigue_increase_rate" yaml:"fatigue_increase_rate"`
	FatigueRecoveryRate float64 `mapstructure:"fatigue_recovery_rate" yaml:"fatigue_recovery_rate"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.fitts_a_mean", 100.0)
	v.SetDefault("browser.humanoid.fitts_a_stddev", 15.0)
	v.SetDefault("browser.humanoid.fitts_b_mean", 120.0)
	v.SetDefault("browser.humanoid.fitts_b_stddev", 20.0)
	v.SetDefault("browser.humanoid.gaussian_strength_mean", 0.5)
	v.SetDefault("browser.humanoid.gaussian_strength_stddev", 0.1)
	v.SetDefault("browser.humanoid.perlin_amplitude_mean", 2.5)
	v.SetDefault("browser.humanoid.perlin_amplitude_stddev", 0.5)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)
	v.SetDefault("browser.humanoid.key_pause_mean", 70.0)
	v.SetDefault("browser.humanoid.key_pause_stddev", 28.0)
	v.SetDefault("browser.humanoid.key_pause_min", 35.0)
	v.SetDefault("browser.humanoid.fatigue_increase_rate", 0.005)
	v.SetDefault("browser.humanoid.fatigue_recovery_rate", 0.01)
}
