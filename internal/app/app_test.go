package app

import (
	"testing"
	"time"

	"countbot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc"},
		Countdown: config.CountdownConfig{
			Start:    "2026-03-14 00:00",
			End:      "2026-07-01 00:00",
			Timezone: "UTC",
		},
	}
}

func TestBuildCountdownConfigDefaults(t *testing.T) {
	t.Parallel()
	got, err := buildCountdownConfig(baseConfig())
	if err != nil {
		t.Fatalf("buildCountdownConfig: %v", err)
	}
	if got.Interval != time.Second {
		t.Fatalf("interval = %v, want 1s", got.Interval)
	}
	if !got.Epoch.End.After(got.Epoch.Start) {
		t.Fatalf("epoch = %+v", got.Epoch)
	}
}

func TestBuildCountdownConfigDayWords(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Countdown.DayWords = []string{"day", "days"}
	got, err := buildCountdownConfig(cfg)
	if err != nil {
		t.Fatalf("buildCountdownConfig: %v", err)
	}
	if got.DayWords[0] != "day" || got.DayWords[1] != "days" || got.DayWords[2] != "" {
		t.Fatalf("day words = %v", got.DayWords)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	if err := validateConfig(baseConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	noToken := baseConfig()
	noToken.Telegram.Token = " "
	if err := validateConfig(noToken); err == nil {
		t.Fatalf("empty token accepted")
	}

	badEpoch := baseConfig()
	badEpoch.Countdown.End = "2026-01-01"
	if err := validateConfig(badEpoch); err == nil {
		t.Fatalf("reversed epoch accepted")
	}

	badInterval := baseConfig()
	badInterval.Countdown.UpdateInterval = "soon"
	if err := validateConfig(badInterval); err == nil {
		t.Fatalf("bad interval accepted")
	}

	badDigest := baseConfig()
	badDigest.Digest = &config.DigestConfig{Enabled: true, Schedule: "every day"}
	if err := validateConfig(badDigest); err == nil {
		t.Fatalf("bad digest schedule accepted")
	}

	disabledDigest := baseConfig()
	disabledDigest.Digest = &config.DigestConfig{Enabled: false, Schedule: "every day"}
	if err := validateConfig(disabledDigest); err != nil {
		t.Fatalf("disabled digest validated schedule: %v", err)
	}
}

func TestBuildDigestConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Digest = &config.DigestConfig{
		Enabled:  true,
		Schedule: "0 9 * * *",
		Chats:    []config.DigestChat{{ChatID: -100, ThreadID: 4}},
	}
	got, err := buildDigestConfig(cfg)
	if err != nil {
		t.Fatalf("buildDigestConfig: %v", err)
	}
	if !got.Enabled || got.Schedule != "0 9 * * *" {
		t.Fatalf("digest config = %+v", got)
	}
	if len(got.Targets) != 1 || got.Targets[0].ThreadID != 4 {
		t.Fatalf("targets = %+v", got.Targets)
	}
	if got.Location == nil || got.Location.String() != "UTC" {
		t.Fatalf("location = %v", got.Location)
	}
}
