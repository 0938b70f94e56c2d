package config

import (
	"encoding/json"
	"os"
	"time"

	"couplesync/internal/flagx"
	"couplesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies
// on timex.Duration so JSON can specify intervals either as strings like
// "3s" or as integer nanoseconds. After parsing, values are copied into
// the runtime Config.
type JsonConfig struct {
	Backend      string `json:"backend"`
	RemoteDSN    string `json:"remote_dsn"`
	SessionToken string `json:"session_token"`
	LocalDBPath  string `json:"local_db_path"`
	UserID       string `json:"user_id"`

	OnlineCheckInterval      timex.Duration `json:"online_check_interval"`
	ResyncMinInterval        timex.Duration `json:"resync_min_interval"`
	RetryCap                 int            `json:"retry_cap"`
	GenerationLockStaleAfter timex.Duration `json:"generation_lock_stale_after"`
	InviteTTL                timex.Duration `json:"invite_ttl"`

	S3Bucket    string `json:"s3_bucket"`
	S3Region    string `json:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key"`
}

// parseJson overlays cfg with values from the JSON file named by the
// -c/-config flag. Empty JSON fields keep the current value, so a file
// may set only what it cares about.
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

	if jc.Backend != "" {
		cfg.Backend = jc.Backend
	}
	if jc.RemoteDSN != "" {
		cfg.RemoteDSN = jc.RemoteDSN
	}
	if jc.SessionToken != "" {
		cfg.SessionToken = jc.SessionToken
	}
	if jc.LocalDBPath != "" {
		cfg.LocalDBPath = jc.LocalDBPath
	}
	if jc.UserID != "" {
		cfg.UserID = jc.UserID
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.ResyncMinInterval.Duration != 0 {
		cfg.ResyncMinInterval = time.Duration(jc.ResyncMinInterval.Duration)
	}
	if jc.RetryCap != 0 {
		cfg.RetryCap = jc.RetryCap
	}
	if jc.GenerationLockStaleAfter.Duration != 0 {
		cfg.GenerationLockStaleAfter = time.Duration(jc.GenerationLockStaleAfter.Duration)
	}
	if jc.InviteTTL.Duration != 0 {
		cfg.InviteTTL = time.Duration(jc.InviteTTL.Duration)
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3Endpoint != "" {
		cfg.S3Endpoint = jc.S3Endpoint
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
}
