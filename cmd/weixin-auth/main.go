package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"

	"github.com/oldrev/weixin-auth/pkg/account"
	"github.com/oldrev/weixin-auth/pkg/authorizer"
	authapi "github.com/oldrev/weixin-auth/pkg/authorizer/api"
	"github.com/oldrev/weixin-auth/pkg/linkage"
	"github.com/oldrev/weixin-auth/pkg/notification"
	"github.com/oldrev/weixin-auth/pkg/session"
	"github.com/oldrev/weixin-auth/pkg/weixin"
)

type DbConfig struct {
	Host     string `env:"AUTH_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"AUTH_PG_PORT" env-default:"5432"`
	Database string `env:"AUTH_PG_DATABASE" env-default:"weixin_auth_db"`
	User     string `env:"AUTH_PG_USER" env-default:"auth"`
	Password string `env:"AUTH_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"AUTH_PG_SCHEMA" env-default:"public"`
}

func (d DbConfig) toDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

type WeixinConfig struct {
	AppID     string `env:"WEIXIN_APP_ID" env-default:""`
	AppSecret string `env:"WEIXIN_APP_SECRET" env-default:""`
	Enabled   bool   `env:"WEIXIN_ENABLED" env-default:"true"`
	// AutoRegister controls account creation for unknown external ids
	AutoRegister bool `env:"WEIXIN_AUTO_REGISTER" env-default:"true"`
}

type SessionConfig struct {
	JwtSecret      string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer         string `env:"JWT_ISSUER" env-default:"weixin-auth"`
	CookieHttpOnly bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure   bool   `env:"COOKIE_SECURE" env-default:"true"`
}

type EmailConfig struct {
	Host       string `env:"EMAIL_HOST" env-default:"localhost"`
	Port       uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username   string `env:"EMAIL_USERNAME" env-default:""`
	Password   string `env:"EMAIL_PASSWORD" env-default:""`
	From       string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS        bool   `env:"EMAIL_TLS" env-default:"false"`
	OpsAddress string `env:"EMAIL_OPS_ADDRESS" env-default:""`
}

type Config struct {
	BaseUrl       string `env:"BASE_URL" env-default:"http://localhost:4000"`
	LoginUrl      string `env:"LOGIN_URL" env-default:"/login"`
	InMemory      bool   `env:"IN_MEMORY" env-default:"false"`
	DbConfig      DbConfig
	WeixinConfig  WeixinConfig
	SessionConfig SessionConfig
	EmailConfig   EmailConfig
	AppConfig     app.AppConfig
}

// loadEnvFile loads environment variables from a .env file if one exists
// next to the executable or in the working directory.
func loadEnvFile() {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("Failed to get executable path", "error", err)
		return
	}

	envFile := filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Failed to get current working directory", "error", err)
			return
		}
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return
	}

	slog.Info("Loading configuration from .env file", "path", envFile)
	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "path", envFile, "error", err)
	}
}

func main() {
	loadEnvFile()

	config := Config{}
	if err := cleanenv.ReadEnv(&config); err != nil {
		slog.Error("Failed to read environment config", "error", err)
		os.Exit(-1)
	}

	server := app.DefaultWithoutRoutes()
	app.RoutesHealthz(server.R)

	// Repositories: Postgres by default, in-memory for local development
	var (
		accountRepo account.Repository
		linkageRepo linkage.Repository
	)
	if config.InMemory {
		slog.Info("Using in-memory repositories")
		accountRepo = account.NewInMemoryRepository()
		linkageRepo = linkage.NewInMemoryRepository()
	} else {
		pool, err := pgxpool.New(context.Background(), config.DbConfig.toDatabaseURL())
		if err != nil {
			slog.Error("Failed creating dbpool", "db", config.DbConfig.Database,
				"host", config.DbConfig.Host, "port", config.DbConfig.Port, "user", config.DbConfig.User)
			os.Exit(-1)
		}
		accountRepo = account.NewPostgresRepository(pool)
		linkageRepo = linkage.NewPostgresRepository(pool)
	}

	accountService := account.NewService(accountRepo)

	sessionService := session.NewService(config.SessionConfig.JwtSecret,
		session.WithIssuer(config.SessionConfig.Issuer),
		session.WithCookieSecure(config.SessionConfig.CookieSecure),
	)

	weixinConfig := weixin.Config{
		AppID:     config.WeixinConfig.AppID,
		AppSecret: config.WeixinConfig.AppSecret,
		Enabled:   config.WeixinConfig.Enabled,
	}

	weixinClient, err := weixin.NewClient(weixinConfig)
	if err != nil {
		slog.Error("Weixin client not configured; set WEIXIN_APP_ID and WEIXIN_APP_SECRET", "error", err)
		os.Exit(-1)
	}

	authOpts := []authorizer.ServiceOption{
		authorizer.WithAutoRegistration(config.WeixinConfig.AutoRegister),
	}
	if config.EmailConfig.OpsAddress != "" {
		notifier, err := notification.NewEmailNotifier(notification.SMTPConfig{
			Host:     config.EmailConfig.Host,
			Port:     int(config.EmailConfig.Port),
			TLS:      config.EmailConfig.TLS,
			Username: config.EmailConfig.Username,
			Password: config.EmailConfig.Password,
			From:     config.EmailConfig.From,
		}, config.EmailConfig.OpsAddress)
		if err != nil {
			slog.Error("Failed to initialize email notifier", "error", err)
		} else {
			authOpts = append(authOpts, authorizer.WithNotifier(notifier))
		}
	}

	authService := authorizer.NewService(weixinClient, weixinConfig, linkageRepo, accountService, authOpts...)

	authHandle := authapi.NewHandle(authService, sessionService, accountService,
		authapi.WithBaseURL(config.BaseUrl),
		authapi.WithLoginURL(config.LoginUrl),
	)

	server.R.Mount("/auth/weixin", authapi.Handler(authHandle))

	slog.Info("Weixin external authentication ready",
		"base_url", config.BaseUrl,
		"enabled", config.WeixinConfig.Enabled,
		"auto_register", config.WeixinConfig.AutoRegister,
		"in_memory", config.InMemory)

	server.Run()
}
