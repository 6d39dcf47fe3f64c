package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config file base name inside a project directory. YAML, JSON and INI
// variants are all accepted.
const configBaseName = "apibackuper"

// Sidecar files merged into every request when present.
const (
	headersFile = "headers.json"
	paramsFile  = "params.json"
)

// Load reads and validates the project configuration from projectPath.
func Load(projectPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(configBaseName)
	v.AddConfigPath(projectPath)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return nil, errf("config file", "not found in %s", projectPath)
		}
		return nil, errf("config file", "parse: %v", err)
	}

	cfg := Default()

	cfg.Name = v.GetString("settings.name")
	if s := v.GetString("settings.splitter"); s != "" {
		cfg.Splitter = s
	}

	cfg.URL = v.GetString("project.url")
	if m := v.GetString("project.http_mode"); m != "" {
		cfg.HTTPMode = strings.ToUpper(m)
	}
	if it := v.GetString("project.iterate_by"); it != "" {
		cfg.IterateBy = IterateBy(strings.ToLower(it))
	}

	cfg.PageLimit = v.GetInt("params.page_size_limit")
	cfg.PageSizeParam = v.GetString("params.page_size_param")
	cfg.PageNumberParam = v.GetString("params.page_number_param")
	cfg.CountSkipParam = v.GetString("params.count_skip_param")
	if v.IsSet("params.start_page") {
		cfg.StartPage = v.GetInt("params.start_page")
	}

	cfg.DataKey = v.GetString("data.data_key")
	cfg.ItemKey = splitKeyList(v.GetString("data.item_key"))
	cfg.ChangeKey = splitKeyList(v.GetString("data.change_key"))
	cfg.TotalNumberKey = v.GetString("data.total_number_key")
	cfg.PagesNumberKey = v.GetString("data.pages_number_key")

	if p := v.GetString("storage.storage_path"); p != "" {
		cfg.StoragePath = p
	}
	cfg.Compression = v.GetBool("storage.compression")

	loadAuth(v, &cfg)
	loadRateLimit(v, &cfg)
	loadRequest(v, &cfg)
	loadErrorHandling(v, &cfg)

	cfg.Cache.Enabled = v.GetBool("cache.enabled")
	cfg.Cache.RedisAddr = v.GetString("cache.redis_addr")
	cfg.Cache.RedisDB = v.GetInt("cache.redis_db")

	var err error
	cfg.Headers, err = loadStringMap(filepath.Join(projectPath, headersFile))
	if err != nil {
		return nil, errf(headersFile, "%v", err)
	}
	cfg.Params, err = loadParamMap(filepath.Join(projectPath, paramsFile))
	if err != nil {
		return nil, errf(paramsFile, "%v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadAuth(v *viper.Viper, cfg *Config) {
	cfg.Auth.Type = AuthType(strings.ToLower(v.GetString("auth.type")))
	cfg.Auth.Username = v.GetString("auth.username")
	cfg.Auth.Password = readSecret(v, "auth.password")
	cfg.Auth.Token = readSecret(v, "auth.token")
	cfg.Auth.APIKey = v.GetString("auth.api_key")
	if h := v.GetString("auth.api_key_header"); h != "" {
		cfg.Auth.APIKeyHeader = h
	}
	cfg.Auth.TokenURL = v.GetString("auth.auth_url")
	cfg.Auth.RefreshToken = v.GetString("auth.refresh_token")
}

// readSecret reads a value either inline or from a companion *_file path,
// so credentials can live outside the project config.
func readSecret(v *viper.Viper, key string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	if path := v.GetString(key + "_file"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func loadRateLimit(v *viper.Viper, cfg *Config) {
	cfg.RateLimit.Enabled = v.GetBool("rate_limit.enabled")
	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("rate_limit.requests_per_second")
	cfg.RateLimit.RequestsPerMinute = v.GetInt("rate_limit.requests_per_minute")
	cfg.RateLimit.RequestsPerHour = v.GetInt("rate_limit.requests_per_hour")
	if v.IsSet("rate_limit.burst_size") {
		cfg.RateLimit.BurstSize = v.GetInt("rate_limit.burst_size")
	}

	// A bare default_delay is the legacy way to pace requests; it maps to
	// a one-request-per-delay ceiling.
	if !cfg.RateLimit.Enabled && v.IsSet("project.default_delay") {
		delay := v.GetFloat64("project.default_delay")
		if delay > 0 {
			cfg.RateLimit.Enabled = true
			cfg.RateLimit.RequestsPerSecond = 1 / delay
			cfg.RateLimit.BurstSize = 1
		}
	}
}

func loadRequest(v *viper.Viper, cfg *Config) {
	if v.IsSet("request.timeout") {
		cfg.Request.Timeout = seconds(v.GetFloat64("request.timeout"))
	}
	if v.IsSet("request.connect_timeout") {
		cfg.Request.ConnectTimeout = seconds(v.GetFloat64("request.connect_timeout"))
	}
	if v.IsSet("request.read_timeout") {
		cfg.Request.ReadTimeout = seconds(v.GetFloat64("request.read_timeout"))
	}
	if v.IsSet("request.verify_ssl") {
		cfg.Request.VerifySSL = v.GetBool("request.verify_ssl")
	}
	if ua := v.GetString("request.user_agent"); ua != "" {
		cfg.Request.UserAgent = ua
	}
	if v.IsSet("request.max_redirects") {
		cfg.Request.MaxRedirects = v.GetInt("request.max_redirects")
	}
	if v.IsSet("request.allow_redirects") {
		cfg.Request.AllowRedirects = v.GetBool("request.allow_redirects")
	}
	cfg.Request.Proxy = v.GetString("request.proxy")
}

func loadErrorHandling(v *viper.Viper, cfg *Config) {
	if v.IsSet("error_handling.retry_on_statuses") {
		cfg.ErrorHandling.RetryOnStatuses = v.GetIntSlice("error_handling.retry_on_statuses")
	}
	if v.IsSet("error_handling.retry_count") {
		cfg.ErrorHandling.RetryCount = v.GetInt("error_handling.retry_count")
	} else if v.IsSet("project.retry_count") {
		cfg.ErrorHandling.RetryCount = v.GetInt("project.retry_count")
	}
	if v.IsSet("error_handling.retry_delay") {
		cfg.ErrorHandling.RetryDelay = seconds(v.GetFloat64("error_handling.retry_delay"))
	} else if v.IsSet("project.retry_delay") {
		cfg.ErrorHandling.RetryDelay = seconds(v.GetFloat64("project.retry_delay"))
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// splitKeyList parses a comma-separated field path list.
func splitKeyList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func loadStringMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return m, nil
}

func loadParamMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	// Numbers are kept as json.Number so large integers survive the
	// round trip into query strings and POST bodies verbatim.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return m, nil
}
