// Package config loads MARTIN's process configuration: a .env file via
// godotenv, then typed environment variables with validation, mirroring
// the recognized options of the trading configuration surface. The
// values are read once at startup: internal/store's settings table is
// not consulted for thresholds, cap, hours or night session mode, so
// those change only on restart. The pause flag lives in the stats row,
// which the orchestrator reads every cycle.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"martin/internal/apperr"
)

// NightSessionMode is the reset policy applied when the night win streak
// reaches its cap.
type NightSessionMode string

const (
	NightOff  NightSessionMode = "OFF"
	NightSoft NightSessionMode = "SOFT"
	NightHard NightSessionMode = "HARD"
)

// ExecutionMode selects paper simulation or live order placement.
type ExecutionMode string

const (
	ExecutionPaper ExecutionMode = "paper"
	ExecutionLive  ExecutionMode = "live"
)

// Config is the fully parsed, validated process configuration.
type Config struct {
	App      AppConfig
	Trading  TradingConfig
	TA       TAConfig
	DayNight DayNightConfig
	Risk     RiskConfig
	Execution ExecutionConfig
	Quantile QuantileConfig
	Security SecurityConfig
	ChatAPI  ChatAPIConfig
	Venue    VenueConfig
	DBPath   string
	LogLevel string
}

type AppConfig struct {
	Timezone          string
	MetricsListenAddr string
}

type TradingConfig struct {
	Assets             []string
	PriceCap           float64
	ConfirmDelaySeconds int
	CapMinTicks        int
	WindowSeconds       int
}

type TAConfig struct {
	WarmupSeconds int
}

type DayNightConfig struct {
	DayStartHour              int
	DayEndHour                int
	BaseDayMinQuality         float64
	BaseNightMinQuality       float64
	SwitchStreakAt            int
	NightMaxWinStreak         int
	NightSessionMode          NightSessionMode
	NightAutotradeEnabled     bool
	ReminderMinutesBeforeEnd  int
	MaxResponseSeconds        int
}

type RiskConfig struct {
	StakeBaseAmountUSDC float64
}

type ExecutionConfig struct {
	Mode ExecutionMode
}

type QuantileConfig struct {
	RollingDays        int
	MaxSamples         int
	MinSamples         int
	StrictFallbackMult float64
	StrictDayQ         string
	StrictNightQ       string
}

// QuantileMap resolves a configured strict-quantile name to its Type-7
// probability. The STRICT gate is a rolling quantile over historical
// qualifying qualities, tunable among the four levels below rather than
// fixed at the median.
var QuantileMap = map[string]float64{
	"p90": 0.90,
	"p95": 0.95,
	"p97": 0.97,
	"p99": 0.99,
}

// SecurityConfig governs the live-trading credential vault and arming gate.
type SecurityConfig struct {
	MasterKey   string // any length, sha256-hashed into the vault key; required only for execution.mode=live
	TOTPIssuer  string
	TOTPAccount string
	ArmTTLSeconds int
}

// ChatAPIConfig governs the trade-card webhook server and its OK/SKIP callbacks.
type ChatAPIConfig struct {
	ListenAddr     string
	JWTSecret      string
	CardWebhookURL string
	CallbackTTLSeconds int
}

// VenueConfig addresses the external collaborators named in §6 but left
// unpinned there: the market-discovery and price-history HTTP endpoints,
// the optional websocket price stream, and the EIP-712 domain the live
// order interface signs under.
type VenueConfig struct {
	DiscoveryBaseURL    string
	PriceHistoryBaseURL string
	PriceStreamWSURL    string
	OrderAPIBaseURL     string

	OrderDomainName       string
	OrderDomainVersion    string
	OrderChainID          int64
	OrderVerifyingContract string
}

// Load reads an optional .env file (missing file is not an error, matching
// godotenv.Load's own tolerance pattern used by the teacher) then parses
// and validates every recognized environment variable. Any schema
// violation returns a ConfigError; callers treat that as fatal at
// startup.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, apperr.Config(fmt.Sprintf("load env file %s", envPath), err)
		}
	}

	cfg := defaults()

	if v := os.Getenv("APP_TIMEZONE"); v != "" {
		cfg.App.Timezone = v
	}
	if v := os.Getenv("APP_METRICS_LISTEN_ADDR"); v != "" {
		cfg.App.MetricsListenAddr = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("APP_DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	if v := os.Getenv("TRADING_ASSETS"); v != "" {
		cfg.Trading.Assets = splitCSV(v)
	}
	if v, ok, err := parseFloat("TRADING_PRICE_CAP"); err != nil {
		return nil, err
	} else if ok {
		cfg.Trading.PriceCap = v
	}
	if v, ok, err := parseInt("TRADING_CONFIRM_DELAY_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Trading.ConfirmDelaySeconds = v
	}
	if v, ok, err := parseInt("TRADING_CAP_MIN_TICKS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Trading.CapMinTicks = v
	}
	if v, ok, err := parseInt("TRADING_WINDOW_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Trading.WindowSeconds = v
	}

	if v, ok, err := parseInt("TA_WARMUP_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.TA.WarmupSeconds = v
	}

	if v, ok, err := parseInt("DAY_NIGHT_DAY_START_HOUR"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.DayStartHour = v
	}
	if v, ok, err := parseInt("DAY_NIGHT_DAY_END_HOUR"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.DayEndHour = v
	}
	if v, ok, err := parseFloat("DAY_NIGHT_BASE_DAY_MIN_QUALITY"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.BaseDayMinQuality = v
	}
	if v, ok, err := parseFloat("DAY_NIGHT_BASE_NIGHT_MIN_QUALITY"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.BaseNightMinQuality = v
	}
	if v, ok, err := parseInt("DAY_NIGHT_SWITCH_STREAK_AT"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.SwitchStreakAt = v
	}
	if v, ok, err := parseInt("DAY_NIGHT_NIGHT_MAX_WIN_STREAK"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.NightMaxWinStreak = v
	}
	if v := os.Getenv("DAY_NIGHT_NIGHT_SESSION_MODE"); v != "" {
		cfg.DayNight.NightSessionMode = NightSessionMode(strings.ToUpper(v))
	}
	if v, ok, err := parseBool("DAY_NIGHT_NIGHT_AUTOTRADE_ENABLED"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.NightAutotradeEnabled = v
	}
	if v, ok, err := parseInt("DAY_NIGHT_REMINDER_MINUTES_BEFORE_DAY_END"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.ReminderMinutesBeforeEnd = v
	}
	if v, ok, err := parseInt("DAY_NIGHT_MAX_RESPONSE_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.DayNight.MaxResponseSeconds = v
	}

	if v, ok, err := parseFloat("RISK_STAKE_BASE_AMOUNT_USDC"); err != nil {
		return nil, err
	} else if ok {
		cfg.Risk.StakeBaseAmountUSDC = v
	}

	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		cfg.Execution.Mode = ExecutionMode(strings.ToLower(v))
	}

	if v, ok, err := parseInt("ROLLING_QUANTILE_ROLLING_DAYS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Quantile.RollingDays = v
	}
	if v, ok, err := parseInt("ROLLING_QUANTILE_MAX_SAMPLES"); err != nil {
		return nil, err
	} else if ok {
		cfg.Quantile.MaxSamples = v
	}
	if v, ok, err := parseInt("ROLLING_QUANTILE_MIN_SAMPLES"); err != nil {
		return nil, err
	} else if ok {
		cfg.Quantile.MinSamples = v
	}
	if v, ok, err := parseFloat("ROLLING_QUANTILE_STRICT_FALLBACK_MULT"); err != nil {
		return nil, err
	} else if ok {
		cfg.Quantile.StrictFallbackMult = v
	}
	if v := os.Getenv("ROLLING_QUANTILE_STRICT_DAY_Q"); v != "" {
		cfg.Quantile.StrictDayQ = strings.ToLower(v)
	}
	if v := os.Getenv("ROLLING_QUANTILE_STRICT_NIGHT_Q"); v != "" {
		cfg.Quantile.StrictNightQ = strings.ToLower(v)
	}

	if v := os.Getenv("SECURITY_MASTER_KEY"); v != "" {
		cfg.Security.MasterKey = v
	}
	if v := os.Getenv("SECURITY_TOTP_ISSUER"); v != "" {
		cfg.Security.TOTPIssuer = v
	}
	if v := os.Getenv("SECURITY_TOTP_ACCOUNT"); v != "" {
		cfg.Security.TOTPAccount = v
	}
	if v, ok, err := parseInt("SECURITY_ARM_TTL_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.Security.ArmTTLSeconds = v
	}

	if v := os.Getenv("CHATAPI_LISTEN_ADDR"); v != "" {
		cfg.ChatAPI.ListenAddr = v
	}
	if v := os.Getenv("CHATAPI_JWT_SECRET"); v != "" {
		cfg.ChatAPI.JWTSecret = v
	}
	if v := os.Getenv("CHATAPI_CARD_WEBHOOK_URL"); v != "" {
		cfg.ChatAPI.CardWebhookURL = v
	}
	if v, ok, err := parseInt("CHATAPI_CALLBACK_TTL_SECONDS"); err != nil {
		return nil, err
	} else if ok {
		cfg.ChatAPI.CallbackTTLSeconds = v
	}

	if v := os.Getenv("VENUE_DISCOVERY_BASE_URL"); v != "" {
		cfg.Venue.DiscoveryBaseURL = v
	}
	if v := os.Getenv("VENUE_PRICE_HISTORY_BASE_URL"); v != "" {
		cfg.Venue.PriceHistoryBaseURL = v
	}
	if v := os.Getenv("VENUE_PRICE_STREAM_WS_URL"); v != "" {
		cfg.Venue.PriceStreamWSURL = v
	}
	if v := os.Getenv("VENUE_ORDER_API_BASE_URL"); v != "" {
		cfg.Venue.OrderAPIBaseURL = v
	}
	if v := os.Getenv("VENUE_ORDER_DOMAIN_NAME"); v != "" {
		cfg.Venue.OrderDomainName = v
	}
	if v := os.Getenv("VENUE_ORDER_DOMAIN_VERSION"); v != "" {
		cfg.Venue.OrderDomainVersion = v
	}
	if v, ok, err := parseInt("VENUE_ORDER_CHAIN_ID"); err != nil {
		return nil, err
	} else if ok {
		cfg.Venue.OrderChainID = int64(v)
	}
	if v := os.Getenv("VENUE_ORDER_VERIFYING_CONTRACT"); v != "" {
		cfg.Venue.OrderVerifyingContract = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		App:    AppConfig{Timezone: "UTC", MetricsListenAddr: ":9090"},
		DBPath: "martin.db",
		LogLevel: "info",
		Trading: TradingConfig{
			Assets:              []string{"BTC", "ETH"},
			PriceCap:            0.55,
			ConfirmDelaySeconds: 120,
			CapMinTicks:         5,
			WindowSeconds:       3600,
		},
		TA: TAConfig{WarmupSeconds: 3600},
		DayNight: DayNightConfig{
			DayStartHour:             6,
			DayEndHour:               22,
			BaseDayMinQuality:        50,
			BaseNightMinQuality:      60,
			SwitchStreakAt:           5,
			NightMaxWinStreak:        3,
			NightSessionMode:         NightSoft,
			NightAutotradeEnabled:    false,
			ReminderMinutesBeforeEnd: 10,
			MaxResponseSeconds:       90,
		},
		Risk:      RiskConfig{StakeBaseAmountUSDC: 10},
		Execution: ExecutionConfig{Mode: ExecutionPaper},
		Quantile: QuantileConfig{
			RollingDays:        30,
			MaxSamples:         500,
			MinSamples:         20,
			StrictFallbackMult: 1.2,
			StrictDayQ:         "p95",
			StrictNightQ:       "p95",
		},
		Security: SecurityConfig{
			TOTPIssuer:    "martin",
			TOTPAccount:   "operator",
			ArmTTLSeconds: 300,
		},
		ChatAPI: ChatAPIConfig{
			ListenAddr:         ":8090",
			CallbackTTLSeconds: 900,
		},
		Venue: VenueConfig{
			OrderDomainName:    "martin",
			OrderDomainVersion: "1",
			OrderChainID:       137,
		},
	}
}

func (c Config) validate() error {
	if c.Trading.PriceCap < 0.01 || c.Trading.PriceCap > 0.99 {
		return apperr.Config(fmt.Sprintf("trading.price_cap %.4f out of range [0.01, 0.99]", c.Trading.PriceCap), nil)
	}
	if c.Trading.ConfirmDelaySeconds < 0 {
		return apperr.Config("trading.confirm_delay_seconds must be >= 0", nil)
	}
	if c.Trading.CapMinTicks < 1 {
		return apperr.Config("trading.cap_min_ticks must be >= 1", nil)
	}
	if c.DayNight.DayStartHour < 0 || c.DayNight.DayStartHour > 23 {
		return apperr.Config("day_night.day_start_hour out of range [0,23]", nil)
	}
	if c.DayNight.DayEndHour < 0 || c.DayNight.DayEndHour > 23 {
		return apperr.Config("day_night.day_end_hour out of range [0,23]", nil)
	}
	if c.DayNight.BaseDayMinQuality < 0 || c.DayNight.BaseNightMinQuality < 0 {
		return apperr.Config("day_night base thresholds must be >= 0", nil)
	}
	if c.DayNight.SwitchStreakAt < 1 {
		return apperr.Config("day_night.switch_streak_at must be >= 1", nil)
	}
	if c.DayNight.NightMaxWinStreak < 1 {
		return apperr.Config("day_night.night_max_win_streak must be >= 1", nil)
	}
	switch c.DayNight.NightSessionMode {
	case NightOff, NightSoft, NightHard:
	default:
		return apperr.Config(fmt.Sprintf("day_night.night_session_mode %q must be one of OFF, SOFT, HARD", c.DayNight.NightSessionMode), nil)
	}
	if c.DayNight.ReminderMinutesBeforeEnd < 0 || c.DayNight.ReminderMinutesBeforeEnd > 180 {
		return apperr.Config("day_night.reminder_minutes_before_day_end out of range [0,180]", nil)
	}
	if c.Risk.StakeBaseAmountUSDC < 0.01 {
		return apperr.Config("risk.stake.base_amount_usdc must be >= 0.01", nil)
	}
	switch c.Execution.Mode {
	case ExecutionPaper, ExecutionLive:
	default:
		return apperr.Config(fmt.Sprintf("execution.mode %q must be one of paper, live", c.Execution.Mode), nil)
	}
	if len(c.Trading.Assets) == 0 {
		return apperr.Config("trading.assets must not be empty", nil)
	}
	if c.Execution.Mode == ExecutionLive && c.Security.MasterKey == "" {
		return apperr.Config("security.master_key is required when execution.mode=live", nil)
	}
	if c.Security.ArmTTLSeconds < 1 {
		return apperr.Config("security.arm_ttl_seconds must be >= 1", nil)
	}
	if c.ChatAPI.CallbackTTLSeconds < 1 {
		return apperr.Config("chatapi.callback_ttl_seconds must be >= 1", nil)
	}
	if _, ok := QuantileMap[c.Quantile.StrictDayQ]; !ok {
		return apperr.Config(fmt.Sprintf("rolling_quantile.strict_day_q %q must be one of p90, p95, p97, p99", c.Quantile.StrictDayQ), nil)
	}
	if _, ok := QuantileMap[c.Quantile.StrictNightQ]; !ok {
		return apperr.Config(fmt.Sprintf("rolling_quantile.strict_night_q %q must be one of p90, p95, p97, p99", c.Quantile.StrictNightQ), nil)
	}
	if c.Venue.DiscoveryBaseURL == "" || c.Venue.PriceHistoryBaseURL == "" {
		return apperr.Config("venue.discovery_base_url and venue.price_history_base_url are required", nil)
	}
	if c.Execution.Mode == ExecutionLive && c.Venue.OrderAPIBaseURL == "" {
		return apperr.Config("venue.order_api_base_url is required when execution.mode=live", nil)
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func parseInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false, apperr.Config(fmt.Sprintf("%s: invalid integer %q", key, v), err)
	}
	return n, true, nil
}

func parseFloat(key string) (float64, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, apperr.Config(fmt.Sprintf("%s: invalid float %q", key, v), err)
	}
	return f, true, nil
}

func parseBool(key string) (bool, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, false, apperr.Config(fmt.Sprintf("%s: invalid bool %q", key, v), err)
	}
	return b, true, nil
}
