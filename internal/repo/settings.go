package repo

import (
	"context"

	"github.com/tinoosan/ptguard/internal/policy"
)

// LoadCapacity returns the persisted capacity policy or the defaults.
func LoadCapacity(ctx context.Context, s SettingsRepo) (policy.Capacity, error) {
	c := policy.DefaultCapacity()
	if _, err := s.GetSetting(ctx, policy.KeyCapacity, &c); err != nil {
		return policy.DefaultCapacity(), err
	}
	return c, nil
}

// LoadIntervals returns the persisted refresh intervals or the defaults.
func LoadIntervals(ctx context.Context, s SettingsRepo) (policy.Intervals, error) {
	iv := policy.DefaultIntervals()
	if _, err := s.GetSetting(ctx, policy.KeyIntervals, &iv); err != nil {
		return policy.DefaultIntervals(), err
	}
	return iv, nil
}

// LoadScheduleControl returns the persisted job switches; all off when absent.
func LoadScheduleControl(ctx context.Context, s SettingsRepo) (policy.ScheduleControl, error) {
	var sc policy.ScheduleControl
	if _, err := s.GetSetting(ctx, policy.KeyScheduleControl, &sc); err != nil {
		return policy.ScheduleControl{}, err
	}
	return sc, nil
}
