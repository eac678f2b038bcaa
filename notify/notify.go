// Package notify is the Notifier (C7): on a terminal transition it builds
// the canonical result envelope and delivers it over the bus and/or an HTTP
// callback (spec §4.7). It never mutates Task state.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/NVIDIA/mediaorch/api"
	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/config"
	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/cmn/metrics"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/task"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v4"
)

// Notifier delivers terminal-task results; it holds no reference to
// task.Store, by construction, so it cannot mutate task state.
type Notifier struct {
	Bus     bus.Bus
	Cfg     *config.Holder
	httpCli *http.Client
}

func New(b bus.Bus, cfg *config.Holder) *Notifier {
	timeout := time.Duration(cfg.Get().Callback.TimeoutSecs) * time.Second
	return &Notifier{Bus: b, Cfg: cfg, httpCli: &http.Client{Timeout: timeout}}
}

// Deliver runs both delivery paths named in spec §4.7 for a just-terminal
// (or resend-requested) Task. Bus-publish failure and callback-delivery
// failure are independent, observable events; neither aborts the other.
func (n *Notifier) Deliver(ctx context.Context, t *task.Task) {
	result := api.BuildTaskResult(t)
	body := cos.MustMarshal(result)

	if t.NotifyTopic != "" {
		if err := n.Bus.Publish(ctx, t.NotifyTopic, body); err != nil {
			nlog.Errorf("task %s: notify_topic %s publish failed: %v", t.TaskID, t.NotifyTopic, err)
		}
	}
	if t.Callback != nil && t.Callback.URL != "" {
		if err := n.deliverCallback(ctx, t.TaskID, *t.Callback, body); err != nil {
			nlog.Errorf("task %s: callback delivery to %s failed: %v", t.TaskID, t.Callback.URL, err)
			metrics.CallbackDeliveries.WithLabelValues("failed").Inc()
		} else {
			metrics.CallbackDeliveries.WithLabelValues("delivered").Inc()
		}
	}
}

// deliverCallback POSTs body to cb.URL with the configured auth, retrying
// transport errors and 5xx for at most callback.max_attempts attempts in
// total, with jittered exponential backoff between them (with the defaults,
// 5 attempts separated by waits of about 1s, 2s, 4s and 8s); any 4xx is a
// terminal delivery failure, logged and not retried.
func (n *Notifier) deliverCallback(ctx context.Context, taskID string, cb task.Callback, body []byte) error {
	cfg := n.Cfg.Get().Callback
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(cfg.BaseDelayMS) * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not by elapsed wall-clock

	attempts := 0
	operation := func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cb.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(cmn.NewErrCallbackFailed("build callback request", err))
		}
		req.Header.Set("Content-Type", "application/json")
		applyAuth(req, taskID, cb.Auth)

		resp, err := n.httpCli.Do(req)
		if err != nil {
			return err // transport error: retryable
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("callback %s: status %d", cb.URL, resp.StatusCode)
		default:
			return backoff.Permanent(cmn.NewErrCallbackFailed(
				fmt.Sprintf("callback %s: non-retryable status %d", cb.URL, resp.StatusCode), nil))
		}
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(bo, uint64(maxAttemptsMinusOne(cfg.MaxAttempts))))
	if err != nil {
		return cmn.NewErrCallbackFailed(fmt.Sprintf("callback delivery exhausted after %d attempts", attempts), err)
	}
	return nil
}

func maxAttemptsMinusOne(maxAttempts int) int {
	if maxAttempts <= 1 {
		return 0
	}
	return maxAttempts - 1
}

// bearerToken returns the value sent in the Authorization header for a
// bearer-auth callback. A token containing a "." is passed through as-is
// (an opaque caller-issued token); otherwise auth.Token is treated as an
// HMAC signing secret and used to mint a short-lived HS256 JWT scoped to
// this one delivery, so the receiving endpoint can verify freshness without
// the orchestrator holding a long-lived shared token on every request.
func bearerToken(taskID string, auth task.CallbackAuth) (string, error) {
	if strings.Contains(auth.Token, ".") {
		return auth.Token, nil
	}
	claims := jwt.MapClaims{
		"task_id": taskID,
		"iat":     cos.Clock().Unix(),
		"exp":     cos.Clock().Add(5 * time.Minute).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(auth.Token))
}

func applyAuth(req *http.Request, taskID string, auth task.CallbackAuth) {
	switch auth.Kind {
	case task.CallbackAuthBearer:
		tok, err := bearerToken(taskID, auth)
		if err != nil {
			nlog.Warningf("task %s: failed to mint bearer token, falling back to raw token: %v", taskID, err)
			tok = auth.Token
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	case task.CallbackAuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	case task.CallbackAuthAPIKey:
		if auth.Header != "" {
			req.Header.Set(auth.Header, auth.Key)
		}
	}
}
