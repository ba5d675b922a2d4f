package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/awsl-project/kirod/internal/auth"
	"github.com/awsl-project/kirod/internal/config"
	"github.com/awsl-project/kirod/internal/executor"
	"github.com/awsl-project/kirod/internal/handler"
	"github.com/awsl-project/kirod/internal/kiro"
	"github.com/awsl-project/kirod/internal/pool"
	"github.com/awsl-project/kirod/internal/repository/sqlite"
	"github.com/awsl-project/kirod/internal/version"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("kirod", version.Full())
		os.Exit(0)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}

	var db *sqlite.DB
	if cfg.DatabaseDSN != "" {
		db, err = sqlite.NewDBFromDSN(cfg.DatabaseDriver, cfg.DatabaseDSN)
	} else {
		db, err = sqlite.NewDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Errorf("database error: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := sqlite.NewCredentialRepository(db)
	tokens := auth.NewTokenManager(repo, nil)

	client, err := kiro.NewClient(kiro.ClientOptions{
		Region:        cfg.Region,
		KiroVersion:   cfg.KiroVersion,
		SystemVersion: cfg.SystemVersion,
		NodeVersion:   cfg.NodeVersion,
		ProxyURL:      cfg.ProxyURL,
		ProxyUsername: cfg.ProxyUsername,
		ProxyPassword: cfg.ProxyPassword,
	}, tokens)
	if err != nil {
		log.Errorf("configuration error: %v", err)
		os.Exit(1)
	}

	selector := pool.NewSelector(repo)
	exec := executor.New(selector, repo)

	messages := handler.NewMessagesHandler(cfg, client, exec)
	admin := handler.NewAdminHandler(repo, client)
	mux := handler.NewMux(cfg, messages, admin)

	log.Infof("kirod %s listening on %s (region=%s)", version.Full(), cfg.Addr(), cfg.Region)
	if err := http.ListenAndServe(cfg.Addr(), mux); err != nil {
		log.Errorf("listener error: %v", err)
		os.Exit(1)
	}
}
