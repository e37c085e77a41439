package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mpsdn/admin_api"
	"mpsdn/config"
	"mpsdn/controller"
	"mpsdn/etcd"
	"mpsdn/metrics_processing"
	"mpsdn/provisioning"
	"mpsdn/southbound"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// log init
func setupLogging(cfg config.LogConfig) {
	logDir := cfg.Dir
	if logDir == "" {
		logDir = "./logs"
	}
	os.MkdirAll(logDir, 0755)

	// Configure log rotation with lumberjack
	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "mpsdn.log"),
		MaxSize:    100,  // MB
		MaxBackups: 7,    // Keep 7 old log files
		MaxAge:     30,   // Days
		Compress:   true, // Compress old log files
	}

	// Output to both file and stdout (for systemd)
	log.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	log.Infof("Logging initialized: file=%s/mpsdn.log, level=%s, stdout=enabled", logDir, level)
}

func loadConfig() *config.FileConfig {
	configPath := os.Getenv("MPSDN_CONFIG")
	if configPath == "" {
		configPath = "mpsdn_config.toml"
	}
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warningf("config file %s not found, using defaults", configPath)
		defaults := config.DefaultFile()
		return &defaults
	}
	if err != nil {
		log.Fatalf("loading configuration failed, err:%v", err)
	}
	return cfg
}

func main() {
	cfg := loadConfig()
	setupLogging(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownSignal
		log.Infof("Received shutdown signal. Initiating graceful shutdown...")
		cancel()
	}()

	var profile *provisioning.Profile
	if cfg.ProvisioningFile != "" {
		p, err := provisioning.Load(cfg.ProvisioningFile)
		if err != nil {
			log.Fatalf("loading provisioning failed, err:%v", err)
		}
		profile = p
	}

	var device southbound.Device = southbound.LoggingDevice{}
	var worker *etcd.EventWorker
	if len(cfg.Etcd.Endpoints) > 0 {
		client, err := etcd.Connect(cfg.Etcd)
		if err != nil {
			log.Fatalf("connecting to etcd failed, err:%v", err)
		}
		defer client.Close()
		device = etcd.NewCommandPublisher(client, cfg.Etcd.CommandPrefix)
		worker = etcd.NewEventWorker(client, client, cfg.Etcd.EventPrefix)
		log.Infof("southbound bridge on etcd %v", cfg.Etcd.Endpoints)
	} else {
		log.Warningf("no etcd endpoints configured, commands are only logged")
	}

	ctrl, err := controller.New(controller.Options{Config: cfg.Controller, Device: device, Profile: profile})
	if err != nil {
		log.Fatalf("creating controller failed, err:%v", err)
	}

	pool, err := metrics_processing.PoolFor(0)
	if err != nil {
		log.Fatalf("creating goroutine pool failed, err:%v", err)
	}
	defer pool.Release()
	monitor := metrics_processing.NewMonitor(ctrl, device, pool)

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
			log.Infof("%s stopped", name)
		}()
	}

	run("monitor", func() { monitor.Run(ctx) })
	run("computation", func() { ctrl.RunComputation(ctx) })
	run("admin api", func() {
		if err := admin_api.Run(ctx, cfg.Admin.Listen, ctrl); err != nil {
			log.Errorf("admin api failed: %v", err)
			cancel()
		}
	})
	if worker != nil {
		worker.RegisterHandler(ctrl)
		run("event worker", func() {
			if err := worker.Start(ctx); err != nil {
				log.Errorf("event worker failed: %v", err)
				cancel()
			}
		})
	}

	log.Infof("multipath controller started")
	wg.Wait()
	log.Infof("multipath controller shut down")
}
