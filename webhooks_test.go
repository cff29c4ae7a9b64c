package hamlet

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/model"
)

const testWebhookURL = "https://hooks.example.com/hamlet"

func webhookConfig(redisAddr string) *config.Configuration {
	cfg := testConfig()
	cfg.Redis.Dns = redisAddr
	cfg.Notification.Webhook.Url = testWebhookURL
	cfg.Notification.Webhook.Headers = map[string]string{"X-Hamlet-Secret": "s3cret"}
	return cfg
}

func TestWebhookNotifier_EnqueuesTask(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())

	notifier := NewWebhookNotifier(cfg)
	defer notifier.Close()

	action := model.Action{ActionID: "act_1", VillageID: "vil_1", Type: ActionTypeBuildUpgrade, Status: model.ActionStatusCompleted}
	require.NoError(t, notifier.Notify(context.Background(), EventActionCompleted, action))

	assert.NotEmpty(t, mr.Keys())
}

func TestWebhookNotifier_NoURLIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := webhookConfig(mr.Addr())
	cfg.Notification.Webhook.Url = ""

	notifier := NewWebhookNotifier(cfg)
	defer notifier.Close()

	require.NoError(t, notifier.Notify(context.Background(), EventActionCompleted, model.Action{ActionID: "act_1"}))
	assert.Empty(t, mr.Keys())
}

func TestProcessWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(webhookConfig("localhost:6379"))

	var received NewWebhook
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "s3cret", req.Header.Get("X-Hamlet-Secret"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	finished := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	payload, err := json.Marshal(NewWebhook{
		Event:   EventActionFailed,
		Payload: model.Action{ActionID: "act_1", Status: model.ActionStatusFailed, LastError: "EFFECT_FAILURE: boom", FinishedAt: &finished},
	})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask("hamlet_webhooks", payload))
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Equal(t, EventActionFailed, received.Event)
}

func TestProcessWebhook_Non2xxIsRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	config.MockConfig(webhookConfig("localhost:6379"))
	httpmock.RegisterResponder(http.MethodPost, testWebhookURL, httpmock.NewStringResponder(http.StatusBadGateway, "down"))

	payload, err := json.Marshal(NewWebhook{Event: EventActionCompleted, Payload: model.Action{ActionID: "act_1"}})
	require.NoError(t, err)

	err = ProcessWebhook(context.Background(), asynq.NewTask("hamlet_webhooks", payload))
	assert.EqualError(t, err, "webhook action.completed returned status 502")
}

func TestProcessWebhook_SkipsWithoutURL(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	cfg := webhookConfig("localhost:6379")
	cfg.Notification.Webhook.Url = ""
	config.MockConfig(cfg)

	err := ProcessWebhook(context.Background(), asynq.NewTask("hamlet_webhooks", []byte("not json")))
	assert.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestProcessWebhook_BadPayload(t *testing.T) {
	config.MockConfig(webhookConfig("localhost:6379"))

	err := ProcessWebhook(context.Background(), asynq.NewTask("hamlet_webhooks", []byte("not json")))
	assert.Error(t, err)
}
