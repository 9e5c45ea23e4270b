// Package config provides layered configuration management for the bot
// core: defaults, environment overrides, and JSON files under a custom/
// directory, deep-merged with github.com/spf13/viper. It hot-reloads on
// file change and exposes a change-event stream (see service.go).
package config

import (
	"fmt"
	"strings"
	"time"
)

// BotSection holds identity and messaging-surface settings.
type BotSection struct {
	Name          string `mapstructure:"name"`
	CommandPrefix string `mapstructure:"commandPrefix"`
	Language      string `mapstructure:"language"`
}

// BridgeSection holds the HTTP bridge client's connection settings.
type BridgeSection struct {
	URL         string        `mapstructure:"url"`
	APIKey      string        `mapstructure:"apiKey"`
	CallTimeout time.Duration `mapstructure:"callTimeout"`
	MaxRetries  int           `mapstructure:"maxRetries"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	Factor      float64       `mapstructure:"factor"`
}

// RateLimitSection holds C5's cooldown and cap parameters.
type RateLimitSection struct {
	DefaultInterval time.Duration  `mapstructure:"defaultInterval"`
	CommandInterval time.Duration  `mapstructure:"commandInterval"`
	QuestionDivisor float64        `mapstructure:"questionDivisor"`
	MaxDailyDefault int            `mapstructure:"maxDailyDefault"`
	DedupCapacity   int            `mapstructure:"dedupCapacity"`
	DedupTTL        time.Duration  `mapstructure:"dedupTTL"`
	HourlyQuota     map[string]int `mapstructure:"hourlyQuota"`
}

// RegistrationSection holds C4's attempt/timeout/name-length policy.
type RegistrationSection struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinNameLen  int           `mapstructure:"minNameLen"`
	MaxNameLen  int           `mapstructure:"maxNameLen"`
}

// PollingSection holds C9's polling cadence.
type PollingSection struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
}

// ConcurrencySection holds C7/§5's concurrency limits.
type ConcurrencySection struct {
	MaxInFlight       int           `mapstructure:"maxInFlight"`
	QueueCapacity     int           `mapstructure:"queueCapacity"`
	ProcessingTimeout time.Duration `mapstructure:"processingTimeout"`
	BridgeCallTimeout time.Duration `mapstructure:"bridgeCallTimeout"`
}

// MessagesSection holds the templated copy the classifier and handlers draw
// from. Kept as free-form string slices/maps so operators can localize
// without a redeploy.
type MessagesSection struct {
	Greetings struct {
		New       []string `mapstructure:"new"`
		Returning []string `mapstructure:"returning"`
	} `mapstructure:"greetings"`
	Farewells []string `mapstructure:"farewells"`
	Help      struct {
		General []string `mapstructure:"general"`
	} `mapstructure:"help"`
	Responses struct {
		Default []string `mapstructure:"default"`
	} `mapstructure:"responses"`
	Registration struct {
		AskName          string `mapstructure:"askName"`
		Welcome          string `mapstructure:"welcome"`
		InvalidEmpty     string `mapstructure:"invalidEmpty"`
		InvalidDigits    string `mapstructure:"invalidDigits"`
		InvalidLength    string `mapstructure:"invalidLength"`
		InvalidChars     string `mapstructure:"invalidChars"`
		InvalidIsPhone   string `mapstructure:"invalidIsPhone"`
		InvalidForbidden string `mapstructure:"invalidForbidden"`
		FallbackAssigned string `mapstructure:"fallbackAssigned"`
	} `mapstructure:"registration"`
	Errors struct {
		PermissionDenied string `mapstructure:"permissionDenied"`
		RateLimited      string `mapstructure:"rateLimited"`
		QuotaExceeded    string `mapstructure:"quotaExceeded"`
		Internal         string `mapstructure:"internal"`
	} `mapstructure:"errors"`
	Classifier ClassifierKeywords `mapstructure:"classifierKeywords" json:"classifierKeywords"`
}

// ClassifierKeywords are the keyword tables C3 matches against, loaded from
// config rather than compiled in.
type ClassifierKeywords struct {
	Greetings  []string `mapstructure:"greetings"`
	Farewells  []string `mapstructure:"farewells"`
	Questions  []string `mapstructure:"questions"`
	Help       []string `mapstructure:"help"`
	Contextual []string `mapstructure:"contextual"`
	Positive   []string `mapstructure:"positive"`
	Negative   []string `mapstructure:"negative"`
}

// Config is the fully merged, validated configuration snapshot. Readers
// always see one of these via Service.Current(); they never observe a
// partially-applied reload.
type Config struct {
	Bot          BotSection          `mapstructure:"bot"`
	Bridge       BridgeSection       `mapstructure:"bridge"`
	RateLimit    RateLimitSection    `mapstructure:"rateLimit"`
	Registration RegistrationSection `mapstructure:"registration"`
	Polling      PollingSection      `mapstructure:"polling"`
	Concurrency  ConcurrencySection  `mapstructure:"concurrency"`
	Messages     MessagesSection     `mapstructure:"messages"`
	DatabasePath string              `mapstructure:"databasePath"`
	LogLevel     string              `mapstructure:"logLevel"`
	LogFormat    string              `mapstructure:"logFormat"`
	OwnerPhone   string              `mapstructure:"ownerPhone"`
	OwnerName    string              `mapstructure:"ownerName"`
	MockWhatsApp bool                `mapstructure:"mockWhatsApp"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// defaults a fresh config/default/*.json layer would produce.
func DefaultConfig() *Config {
	cfg := &Config{
		Bot: BotSection{
			Name:          "Asistente",
			CommandPrefix: "!",
			Language:      "es",
		},
		Bridge: BridgeSection{
			URL:         "http://127.0.0.1:8080",
			CallTimeout: 15 * time.Second,
			MaxRetries:  3,
			BaseDelay:   1000 * time.Millisecond,
			Factor:      2,
		},
		RateLimit: RateLimitSection{
			DefaultInterval: 5 * time.Second,
			CommandInterval: 1 * time.Second,
			QuestionDivisor: 2,
			MaxDailyDefault: 200,
			DedupCapacity:   10000,
			DedupTTL:        48 * time.Hour,
			HourlyQuota: map[string]int{
				"admin":    1000,
				"employee": 100,
				"provider": 50,
				"friend":   30,
				"familiar": 30,
				"customer": 10,
				"block":    0,
			},
		},
		Registration: RegistrationSection{
			MaxAttempts: 3,
			Timeout:     30 * time.Minute,
			MinNameLen:  2,
			MaxNameLen:  50,
		},
		Polling: PollingSection{
			Interval:  5 * time.Second,
			BatchSize: 100,
		},
		Concurrency: ConcurrencySection{
			MaxInFlight:       5,
			QueueCapacity:     100,
			ProcessingTimeout: 30 * time.Second,
			BridgeCallTimeout: 15 * time.Second,
		},
		DatabasePath: "data/botcore.db",
		LogLevel:     "info",
		LogFormat:    "json",
	}

	cfg.Messages.Greetings.New = []string{"¡Hola! Bienvenido."}
	cfg.Messages.Greetings.Returning = []string{"¡Hola de nuevo!"}
	cfg.Messages.Farewells = []string{"¡Hasta luego!"}
	cfg.Messages.Help.General = []string{"Escribe !help para ver los comandos disponibles."}
	cfg.Messages.Responses.Default = []string{"No entendí tu mensaje, intenta con !help."}
	cfg.Messages.Registration.AskName = "¿Cuál es tu nombre?"
	cfg.Messages.Registration.Welcome = "¡Perfecto, %s!"
	cfg.Messages.Registration.InvalidEmpty = "Por favor escribe tu nombre."
	cfg.Messages.Registration.InvalidDigits = "Un nombre no puede ser solo números."
	cfg.Messages.Registration.InvalidLength = "El nombre debe tener entre %d y %d caracteres."
	cfg.Messages.Registration.InvalidChars = "El nombre contiene caracteres no permitidos."
	cfg.Messages.Registration.InvalidIsPhone = "Eso parece un número de teléfono, no un nombre."
	cfg.Messages.Registration.InvalidForbidden = "Ese nombre no está permitido."
	cfg.Messages.Registration.FallbackAssigned = "Te asignamos el nombre %s."
	cfg.Messages.Errors.PermissionDenied = "Permisos insuficientes para ejecutar este comando."
	cfg.Messages.Errors.RateLimited = "Espera un momento antes de volver a escribir."
	cfg.Messages.Errors.QuotaExceeded = "Límite de comandos alcanzado por esta hora."
	cfg.Messages.Errors.Internal = "Ocurrió un error interno, intenta de nuevo."
	cfg.Messages.Classifier = ClassifierKeywords{
		Greetings:  []string{"hola", "buenos dias", "buenas tardes", "buenas noches", "hello", "hi", "hey"},
		Farewells:  []string{"adios", "chao", "hasta luego", "bye", "goodbye"},
		Questions:  []string{"?", "¿", "como", "que", "cuando", "donde", "por que", "where", "what", "how", "why"},
		Help:       []string{"ayuda", "help", "auxilio"},
		Contextual: []string{"triste", "aburrido", "chiste", "hora", "sad", "bored", "joke", "time"},
		Positive:   []string{"gracias", "genial", "excelente", "bien", "great", "thanks", "awesome"},
		Negative:   []string{"mal", "pesimo", "horrible", "odio", "bad", "terrible", "hate"},
	}

	return cfg
}

// Validate checks load-time invariants. Failures are warnings, not fatal,
// except at process startup (see Service.Load).
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Bot.Name) == "" {
		problems = append(problems, "bot.name is required")
	}
	if strings.TrimSpace(c.Bot.CommandPrefix) == "" {
		problems = append(problems, "bot.commandPrefix is required")
	}
	if c.RateLimit.MaxDailyDefault < 1 {
		problems = append(problems, "rateLimit.maxDailyDefault must be >= 1")
	}
	if len(c.Messages.Greetings.New) == 0 {
		problems = append(problems, "messages.greetings.new must have at least one entry")
	}
	if len(c.Messages.Help.General) == 0 {
		problems = append(problems, "messages.help.general must have at least one entry")
	}
	if len(c.Messages.Responses.Default) == 0 {
		problems = append(problems, "messages.responses.default must have at least one entry")
	}
	if c.Registration.MinNameLen < 1 || c.Registration.MinNameLen > c.Registration.MaxNameLen {
		problems = append(problems, "registration.minNameLen must be >=1 and <= maxNameLen")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("config validation: %s", strings.Join(problems, "; "))
}
