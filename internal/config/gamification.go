package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PointRule awards Points when an activity of ActivityType is logged and,
// if DetailKey is set, the activity detail under DetailKey is one of DetailValues.
type PointRule struct {
	ActivityType string   `mapstructure:"activityType"`
	DetailKey    string   `mapstructure:"detailKey"`
	DetailValues []string `mapstructure:"detailValues"`
	Points       int64    `mapstructure:"points"`
	Description  string   `mapstructure:"description"`
}

type MilestoneConfig struct {
	Days   int   `mapstructure:"days"`
	Points int64 `mapstructure:"points"`
}

type GamificationConfig struct {
	PointRules []PointRule       `mapstructure:"pointRules"`
	Milestones []MilestoneConfig `mapstructure:"milestones"`
}

func DefaultGamificationConfig() GamificationConfig {
	return GamificationConfig{
		PointRules: []PointRule{
			{ActivityType: "commute", DetailKey: "mode", DetailValues: []string{"bike", "walk"}, Points: 50, Description: "Eco-friendly commute (Bike/Walk)"},
			{ActivityType: "commute", DetailKey: "mode", DetailValues: []string{"bus", "train"}, Points: 20, Description: "Public transport usage"},
			{ActivityType: "commute", DetailKey: "mode", DetailValues: []string{"electric_car"}, Points: 10, Description: "EV commute"},
			{ActivityType: "commute", Points: 0},
			{ActivityType: "food", DetailKey: "type", DetailValues: []string{"vegetables", "vegan"}, Points: 20, Description: "Plant-based meal"},
			{ActivityType: "food", Points: 0},
			{ActivityType: "electricity", Points: 5, Description: "Energy tracking"},
			{ActivityType: "*", Points: 5, Description: "Activity logged"},
		},
		Milestones: []MilestoneConfig{
			{Days: 7, Points: 50},
			{Days: 30, Points: 250},
			{Days: 100, Points: 1000},
			{Days: 365, Points: 5000},
		},
	}
}

// GamificationHolder serves the current point rules. Rules hot reload when the
// backing file changes; the milestone table is fixed at startup.
type GamificationHolder struct {
	rules      atomic.Value // holds []PointRule
	milestones []MilestoneConfig
}

func NewGamificationHolder(cfg Config, log *zap.Logger) (*GamificationHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.gamification")

	v := viper.New()
	if cfg.GamificationFile != "" {
		v.SetConfigFile(cfg.GamificationFile)
	} else {
		v.SetConfigName("gamification")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/ecopoints")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ECOPOINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read gamification config: %w", err)
		}
		watch = false
	}

	current, err := decodeGamification(v)
	if err != nil {
		return nil, err
	}

	holder := &GamificationHolder{milestones: current.Milestones}
	holder.rules.Store(current.PointRules)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeGamification(v)
			if err != nil {
				log.Warn("gamification.reload.rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.rules.Store(updated.PointRules)
			log.Info("gamification.reloaded", zap.String("file", e.Name), zap.Int("rules", len(updated.PointRules)))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticGamificationHolder returns a holder that never reloads.
func NewStaticGamificationHolder(cfg GamificationConfig) *GamificationHolder {
	holder := &GamificationHolder{milestones: cfg.Milestones}
	holder.rules.Store(cfg.PointRules)
	return holder
}

func (h *GamificationHolder) PointRules() []PointRule {
	return h.rules.Load().([]PointRule)
}

func (h *GamificationHolder) Milestones() []MilestoneConfig {
	out := make([]MilestoneConfig, len(h.milestones))
	copy(out, h.milestones)
	return out
}

func decodeGamification(v *viper.Viper) (GamificationConfig, error) {
	cfg := DefaultGamificationConfig()
	if v.IsSet("gamification") {
		var decoded GamificationConfig
		if err := v.UnmarshalKey("gamification", &decoded); err != nil {
			return GamificationConfig{}, fmt.Errorf("decode gamification config: %w", err)
		}
		if len(decoded.PointRules) > 0 {
			cfg.PointRules = decoded.PointRules
		}
		if len(decoded.Milestones) > 0 {
			cfg.Milestones = decoded.Milestones
		}
	}
	if err := validateGamification(cfg); err != nil {
		return GamificationConfig{}, err
	}
	return cfg, nil
}

func validateGamification(cfg GamificationConfig) error {
	for _, rule := range cfg.PointRules {
		if strings.TrimSpace(rule.ActivityType) == "" {
			return errors.New("gamification.pointRules: activityType cannot be empty")
		}
		if rule.Points < 0 {
			return fmt.Errorf("gamification.pointRules: negative points for %q", rule.ActivityType)
		}
	}
	if len(cfg.Milestones) == 0 {
		return errors.New("gamification.milestones cannot be empty")
	}
	seen := make(map[int]struct{}, len(cfg.Milestones))
	for _, m := range cfg.Milestones {
		if m.Days <= 0 || m.Points <= 0 {
			return fmt.Errorf("gamification.milestones: invalid milestone %d:%d", m.Days, m.Points)
		}
		if _, ok := seen[m.Days]; ok {
			return fmt.Errorf("gamification.milestones: duplicate milestone for %d days", m.Days)
		}
		seen[m.Days] = struct{}{}
	}
	return nil
}
