package models

// MConfig Structure
type MConfig struct {
	Name         string               `yaml:"name"`
	Host         string               `yaml:"host"`
	Port         int                  `yaml:"port"`
	LogLevel     string               `yaml:"log_level"`
	Storage      MStorageConfig       `yaml:"storage"`
	Network      MNetworkConfig       `yaml:"network"`
	Index        MIndexConfig         `yaml:"index"`
	Constituents []MConstituentConfig `yaml:"constituents"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	RequestTimeout     int    `yaml:"timeout"`
	MaxRetries         int    `yaml:"retries"`
	ConcurrentRequests int    `yaml:"concurrent_requests"`
	UserAgent          string `yaml:"user_agent"`
}

// MIndexConfig describes the index itself and its calculation schedule.
type MIndexConfig struct {
	IndexName           string  `yaml:"index_name"`
	IndexFullName       string  `yaml:"index_full_name"`
	Currency            string  `yaml:"currency"`
	Description         string  `yaml:"description"`
	BaseDate            string  `yaml:"base_date"`  // YYYY-MM-DD
	BaseValue           float64 `yaml:"base_value"` // e.g. 1000
	CalculationHour     int     `yaml:"calculation_hour"`
	CalculationMinute   int     `yaml:"calculation_minute"`
	GraceMinutes        int     `yaml:"grace_minutes"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	RespectHolidays     bool    `yaml:"respect_holidays"`
	CalendarMIC         string  `yaml:"calendar_mic"`
}

// MConstituentConfig is one basket member as declared in the config file.
type MConstituentConfig struct {
	Ticker          string  `yaml:"ticker" json:"ticker"`
	Name            string  `yaml:"name" json:"name"`
	Sector          string  `yaml:"sector" json:"sector"`
	FreeFloatFactor float64 `yaml:"free_float_factor" json:"free_float_factor"`
	AddedDate       string  `yaml:"added_date" json:"added_date"`
}
