package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		Build    string
		AppName  string

		DefaultFromEmail mail.Address
		SendgridAPIKey   string
		RollbarToken     string

		Server struct {
			Host            string
			DebugHost       string
			ShutdownTimeout time.Duration
		}

		Database struct {
			Engine        string
			Name          string
			User          string
			Password      string
			AdminUser     string
			AdminPassword string
			Host          string
			Port          string
			DisableTLS    bool
		}

		// Device is the network-attached biometric sensor unit.
		Device struct {
			Address        string // host[:port]
			StatusTimeout  time.Duration
			ScanTimeout    time.Duration
			CommandTimeout time.Duration
		}

		Recognition struct {
			BaseURL string
			Timeout time.Duration
		}

		Camera struct {
			SnapshotURL string
		}

		Capture struct {
			TickInterval time.Duration
			Cooldown     time.Duration
		}

		Enrollment struct {
			ScanWindow     time.Duration // per physical scan; the sensor takes two
			ScanBuffer     time.Duration
			CeilingTimeout time.Duration
		}

		Notify struct {
			InfoWindow    time.Duration
			WarningWindow time.Duration
			ErrorWindow   time.Duration
		}
	}
)

// EnrollmentWaitWindow is the estimated enrollment duration: two capture windows plus a buffer.
func (c *Config) EnrollmentWaitWindow() time.Duration {
	return 2*c.Enrollment.ScanWindow + c.Enrollment.ScanBuffer
}

func (c *Config) DatabaseAddress() string {
	return c.Database.Host + ":" + c.Database.Port
}

func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Hadiri")
	v.SetDefault("build", "dev")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetDefault("serverHost", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)

	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseName", "hadiri")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseDisableTLS", true)

	v.SetDefault("deviceAddress", "192.168.137.129:80")
	v.SetDefault("deviceStatusTimeout", 5*time.Second)
	v.SetDefault("deviceScanTimeout", 10*time.Second)
	v.SetDefault("deviceCommandTimeout", 30*time.Second)

	v.SetDefault("recognitionBaseURL", "http://localhost:5001")
	v.SetDefault("recognitionTimeout", 10*time.Second)
	v.SetDefault("cameraSnapshotURL", "")

	// the sensor cannot keep up with anything faster; cooldown > tick
	// so that back-to-back ticks coalesce into one attempt
	v.SetDefault("captureTickInterval", 2*time.Second)
	v.SetDefault("captureCooldown", 3*time.Second)

	v.SetDefault("enrollmentScanWindow", 10*time.Second)
	v.SetDefault("enrollmentScanBuffer", 2*time.Second)
	v.SetDefault("enrollmentCeilingTimeout", 2*time.Minute)

	v.SetDefault("notifyInfoWindow", 30*time.Second)
	v.SetDefault("notifyWarningWindow", 15*time.Second)
	v.SetDefault("notifyErrorWindow", 10*time.Second)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:    v.GetBool("debug"),
		TestMode: env == "TEST",
		Env:      env,
		Build:    v.GetString("build"),
		AppName:  v.GetString("appName"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("appName"),
			Address: v.GetString("defaultFromEmail"),
		},
		SendgridAPIKey: v.GetString("sendgridApiKey"),
		RollbarToken:   v.GetString("rollbarToken"),
	}
	conf.Server.Host = v.GetString("serverHost")
	conf.Server.DebugHost = v.GetString("serverDebugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("serverShutdownTimeout")

	conf.Database.Engine = v.GetString("databaseEngine")
	conf.Database.Name = v.GetString("databaseName")
	conf.Database.User = v.GetString("databaseUser")
	conf.Database.Password = v.GetString("databasePassword")
	conf.Database.AdminUser = v.GetString("databaseAdminUser")
	conf.Database.AdminPassword = v.GetString("databaseAdminPassword")
	conf.Database.Host = v.GetString("databaseHost")
	conf.Database.Port = v.GetString("databasePort")
	conf.Database.DisableTLS = v.GetBool("databaseDisableTLS")

	conf.Device.Address = v.GetString("deviceAddress")
	conf.Device.StatusTimeout = v.GetDuration("deviceStatusTimeout")
	conf.Device.ScanTimeout = v.GetDuration("deviceScanTimeout")
	conf.Device.CommandTimeout = v.GetDuration("deviceCommandTimeout")

	conf.Recognition.BaseURL = v.GetString("recognitionBaseURL")
	conf.Recognition.Timeout = v.GetDuration("recognitionTimeout")
	conf.Camera.SnapshotURL = v.GetString("cameraSnapshotURL")

	conf.Capture.TickInterval = v.GetDuration("captureTickInterval")
	conf.Capture.Cooldown = v.GetDuration("captureCooldown")

	conf.Enrollment.ScanWindow = v.GetDuration("enrollmentScanWindow")
	conf.Enrollment.ScanBuffer = v.GetDuration("enrollmentScanBuffer")
	conf.Enrollment.CeilingTimeout = v.GetDuration("enrollmentCeilingTimeout")

	conf.Notify.InfoWindow = v.GetDuration("notifyInfoWindow")
	conf.Notify.WarningWindow = v.GetDuration("notifyWarningWindow")
	conf.Notify.ErrorWindow = v.GetDuration("notifyErrorWindow")

	if conf.Env == "PROD" && conf.RollbarToken == "" {
		fmt.Fprintln(os.Stderr, "warning: rollbar token not set")
	}
	return conf
}
