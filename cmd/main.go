package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/start-point/phone-sentry/internal/camera"
	"github.com/start-point/phone-sentry/internal/config"
	"github.com/start-point/phone-sentry/internal/detector"
	"github.com/start-point/phone-sentry/internal/export"
	"github.com/start-point/phone-sentry/internal/notify"
	"github.com/start-point/phone-sentry/internal/platform"
	"github.com/start-point/phone-sentry/internal/recorder"
	"github.com/start-point/phone-sentry/internal/supervisor"
)

const (
	cameraWarmup    = 2 * time.Second
	cleanupInterval = 6 * time.Hour
	shutdownGrace   = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	holder := config.NewHolder(cfg)
	if err := holder.Watch(ctx, *configPath); err != nil {
		log.Printf("Config: hot reload unavailable: %v", err)
	}

	username := currentUsername()
	device, err := os.Hostname()
	if err != nil {
		device = "unknown"
	}

	rec, err := recorder.New(cfg.LogDir)
	if err != nil {
		log.Fatalf("Ошибка открытия журнала событий: %v", err)
	}
	defer rec.Close()

	if err := rec.CleanOldLogs(cfg.LogRetention); err != nil {
		log.Printf("Recorder: startup cleanup: %v", err)
	}
	go cleanupLoop(ctx, rec, holder)

	eng, err := detector.New(cfg.ModelPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки модели %s: %v", cfg.ModelPath, err)
	}
	defer eng.Close()

	cam := camera.New(cfg.CameraID, cameraWarmup, cfg.FPS)
	cam.Start()
	defer cam.Stop()

	dispatcher := notify.NewDispatcher(notify.NewTelegramClient(cfg.Telegram.BotToken))
	defer dispatcher.Close()

	var exporter supervisor.Exporter
	if cfg.KafkaEnabled() {
		k, err := export.NewKafka(cfg.Export.Kafka.Brokers, cfg.Export.Kafka.EventTopic, cfg.Export.Kafka.HeartbeatTopic)
		if err != nil {
			log.Printf("Export: Kafka недоступна, телеметрия отключена: %v", err)
		} else {
			defer k.Close()
			exporter = k
		}
	}
	if cfg.S3Enabled() {
		m, err := export.NewS3Mirror(ctx,
			cfg.Export.S3.Endpoint, cfg.Export.S3.AccessKey, cfg.Export.S3.SecretKey,
			cfg.Export.S3.Bucket, device)
		if err != nil {
			log.Printf("Export: S3 недоступно, зеркало улик отключено: %v", err)
		} else {
			rec.SetUploader(m)
		}
	}

	desktop := platform.NewDesktop()
	sup := supervisor.New(supervisor.Deps{
		Config:     holder,
		Camera:     cam,
		Detector:   eng,
		Recorder:   rec,
		Notifier:   dispatcher,
		Exporter:   exporter,
		Locker:     desktop,
		Probe:      desktop,
		Screenshot: desktop,
		Minimizer:  desktop,
		Username:   username,
		Device:     device,
	})

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("Завершение работы...")
		cancel()
		select {
		case <-supDone:
		case <-time.After(shutdownGrace):
			log.Println("Наблюдение не остановилось вовремя")
		}
	case <-supDone:
		// Camera loss ends the run from inside the loop.
		log.Println("Наблюдение остановлено")
	}
}

// cleanupLoop periodically applies the retention policy, re-reading it
// so a settings change takes effect without a restart.
func cleanupLoop(ctx context.Context, rec *recorder.Recorder, holder *config.Holder) {
	tick := time.NewTicker(cleanupInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := rec.CleanOldLogs(holder.Current().LogRetention); err != nil {
				log.Printf("Recorder: retention cleanup: %v", err)
			}
		}
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
