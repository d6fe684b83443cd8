package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register /debug/pprof handlers
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/hadiri/apps/api/echo"
	"github.com/trezcool/hadiri/core"
	"github.com/trezcool/hadiri/core/enroll"
	"github.com/trezcool/hadiri/core/session"
	devicesvc "github.com/trezcool/hadiri/services/device"
	emailsvc "github.com/trezcool/hadiri/services/email"
	logsvc "github.com/trezcool/hadiri/services/logger"
	notifysvc "github.com/trezcool/hadiri/services/notify"
	recognitionsvc "github.com/trezcool/hadiri/services/recognition"
	"github.com/trezcool/hadiri/storage/database"
	"github.com/trezcool/hadiri/storage/database/sqlxrepos"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()
	dbx := sqlx.NewDb(db, conf.Database.Engine)
	sessRepo := sqlxrepos.NewSessionRepository(dbx)
	enrollRepo := sqlxrepos.NewEnrollRepository(dbx)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	notifier := notifysvc.NewThrottle(notifysvc.NewLogNotifier(logger), conf)
	device := devicesvc.NewClient(conf, logger)
	recognizer := recognitionsvc.NewClient(conf, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)

	sessSvc := session.NewService(session.ServiceDeps{
		Repo:       sessRepo,
		Device:     device,
		Recognizer: recognizer,
		OpenFrames: recognitionsvc.NewOpenSnapshotSource(conf),
		Notifier:   notifier,
		MailSvc:    mailSvc,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Conf:       conf,
	})
	enrollSvc := enroll.NewService(enroll.ServiceDeps{
		Repo:       enrollRepo,
		Device:     device,
		Notifier:   notifier,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Conf:       conf,
	})

	// pick up an enrollment left unfinished by a restart
	if err = enrollSvc.Resume(context.Background()); err != nil {
		logger.Error(fmt.Sprintf("resuming enrollment: %v", err), err)
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err = http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			SessionSvc: sessSvc,
			EnrollSvc:  enrollSvc,
			Device:     device,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
