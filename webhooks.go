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

package hamlet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/hamletgame/hamlet/config"
	redis_db "github.com/hamletgame/hamlet/internal/redis-db"
	"github.com/hamletgame/hamlet/model"
)

// Outcome events delivered to the configured webhook.
const (
	EventActionCompleted = "action.completed"
	EventActionFailed    = "action.failed"
	EventActionStuck     = "action.stuck"
)

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"` // The event type that triggered the webhook.
	Payload interface{} `json:"data"`  // The data associated with the event.
}

// Notifier publishes action outcomes. Notification failures never affect the action itself.
type Notifier interface {
	Notify(ctx context.Context, event string, action model.Action) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, model.Action) error { return nil }

// WebhookNotifier enqueues outcome webhooks on an asynq queue; ProcessWebhook delivers them.
type WebhookNotifier struct {
	client *asynq.Client
	queue  string
	url    string
}

// NewWebhookNotifier builds a notifier against the configured Redis.
func NewWebhookNotifier(conf *config.Configuration) *WebhookNotifier {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		logrus.Errorf("Error parsing Redis URL: %v", err)
		return &WebhookNotifier{queue: conf.Worker.WebhookQueue}
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	return &WebhookNotifier{
		client: asynq.NewClient(queueOptions),
		queue:  conf.Worker.WebhookQueue,
		url:    conf.Notification.Webhook.Url,
	}
}

// Notify enqueues a webhook task for event. It is a no-op when no webhook URL is configured.
func (n *WebhookNotifier) Notify(ctx context.Context, event string, action model.Action) error {
	if n.url == "" || n.client == nil {
		return nil
	}

	payload, err := json.Marshal(NewWebhook{Event: event, Payload: action})
	if err != nil {
		return err
	}

	task := asynq.NewTask(n.queue, payload, asynq.Queue(n.queue), asynq.MaxRetry(5))
	info, err := n.client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.Errorf("failed to enqueue %s webhook for action %s: %v", event, action.ActionID, err)
		return err
	}
	logrus.Debugf("enqueued %s webhook for action %s as task %s", event, action.ActionID, info.ID)
	return nil
}

// Close releases the queue connection.
func (n *WebhookNotifier) Close() error {
	if n.client == nil {
		return nil
	}
	return n.client.Close()
}

// processHTTP sends a webhook notification via HTTP POST request.
func processHTTP(ctx context.Context, conf *config.Configuration, data NewWebhook) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	// Check if the status code is not in the 2XX success range
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", data.Event, resp.StatusCode)
	}

	logrus.Infof("Webhook notification %s sent successfully", data.Event)
	return nil
}

// ProcessWebhook processes a webhook notification task from the queue.
// A non-2XX response is returned as an error so asynq retries the task.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return err
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return processHTTP(ctx, conf, payload)
}
