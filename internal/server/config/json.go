package config

import (
	"encoding/json"
	"os"
	"time"

	"couplesync/internal/flagx"
	"couplesync/internal/timex"
)

// JsonConfig is a DTO used only for JSON unmarshalling. Interval fields
// use timex.Duration so JSON may carry either strings like "1h" or
// integer nanoseconds.
type JsonConfig struct {
	DatabaseDSN    string         `json:"database_dsn"`
	SweepInterval  timex.Duration `json:"sweep_interval"`
	RecoveryWindow timex.Duration `json:"recovery_window"`
	LockStaleAfter timex.Duration `json:"lock_stale_after"`
}

// parseJson overlays cfg with values from the JSON file named by the
// -c/-config flag. Empty fields keep the current value.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SweepInterval.Duration != 0 {
		cfg.SweepInterval = time.Duration(jc.SweepInterval.Duration)
	}
	if jc.RecoveryWindow.Duration != 0 {
		cfg.RecoveryWindow = time.Duration(jc.RecoveryWindow.Duration)
	}
	if jc.LockStaleAfter.Duration != 0 {
		cfg.LockStaleAfter = time.Duration(jc.LockStaleAfter.Duration)
	}
}
