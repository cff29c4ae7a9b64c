/*
Copyright 2024 Hamlet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/module/apmlogrus/v2"

	"github.com/hamletgame/hamlet"
	"github.com/hamletgame/hamlet/config"
	redis_db "github.com/hamletgame/hamlet/internal/redis-db"
)

func init() {
	logrus.AddHook(&apmlogrus.Hook{})
}

func redisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %v", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// startWebhookServer runs the asynq server delivering outcome webhooks and the asynqmon
// dashboard next to it. It returns nil values when Redis is not configured.
func startWebhookServer(conf *config.Configuration) (*asynq.Server, error) {
	if conf.Redis.Dns == "" {
		logrus.Warn("Redis is not configured, outcome webhooks are disabled")
		return nil, nil
	}

	opt, err := redisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{conf.Worker.WebhookQueue: 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(conf.Worker.WebhookQueue, hamlet.ProcessWebhook)
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("could not start webhook server: %v", err)
	}

	monitor := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: opt,
	})
	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Worker.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, monitor); err != nil {
			logrus.Errorf("could not start asynqmon server: %v", err)
		}
	}()

	return srv, nil
}

// workerCommands defines the `workers` command: the action worker, the stuck action monitor
// and the webhook delivery server.
func workerCommands(h *hamletInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start hamlet workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := initializeTracing(ctx, h.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := startWebhookServer(h.cnf)
			if err != nil {
				log.Fatal(err)
			}

			worker := hamlet.NewActionWorker(h.hamlet)
			monitor := hamlet.NewStuckActionMonitor(h.hamlet)
			worker.Start(ctx)
			monitor.Start(ctx)

			<-ctx.Done()
			logrus.Info("Shutting down workers")

			worker.Stop()
			monitor.Stop()
			if srv != nil {
				srv.Shutdown()
			}
		},
	}

	return cmd
}
