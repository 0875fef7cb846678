package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/shadowfetch/shadowfetch/internal/models"
)

const webhookTimeout = 10 * time.Second

// webhookPayload is the body POSTed to a job's callback_url on terminal
// status, per SPEC_FULL §6's Webhook contract.
type webhookPayload struct {
	JobID        string           `json:"job_id"`
	URL          string           `json:"url"`
	Status       string           `json:"status"`
	Data         *models.Artifact `json:"data,omitempty"`
	Error        string           `json:"error,omitempty"`
	ErrorDetails *models.FetchError `json:"error_details,omitempty"`
}

// deliverWebhook is a fire-and-forget POST to job.CallbackURL. Failures are
// logged, never retried and never surfaced to the worker, matching the
// teacher's WebhookService.Send "go func(){...}" shape.
func (b *Broker) deliverWebhook(job *models.Job) {
	if job.CallbackURL == "" {
		return
	}
	go func() {
		payload := webhookPayload{
			JobID:  job.ID,
			URL:    job.URL,
			Status: string(job.Status),
			Data:   job.Result,
		}
		if job.Error != nil {
			payload.Error = job.Error.Message
			payload.ErrorDetails = job.Error
		}
		body, err := json.Marshal(payload)
		if err != nil {
			b.logger.Error("webhook: failed to marshal payload", "job_id", job.ID, "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
		if err != nil {
			b.logger.Error("webhook: failed to build request", "job_id", job.ID, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.webhookClient.Do(req)
		if err != nil {
			b.logger.Warn("webhook: delivery failed", "job_id", job.ID, "url", job.CallbackURL, "error", err)
			return
		}
		_ = resp.Body.Close()
		b.logger.Info("webhook: delivered", "job_id", job.ID, "url", job.CallbackURL, "status_code", resp.StatusCode)
	}()
}

// postIssueComment shells out to the gh CLI to leave a terminal-status
// comment on job.IssueRef, mirroring the original source's
// _send_github_comment side channel.
func (b *Broker) postIssueComment(job *models.Job) {
	if job.IssueRef == 0 || b.githubRepo == "" {
		return
	}
	go func() {
		var body string
		if job.Status == models.StatusCompleted {
			sizeKB := float64(len(job.Result.Markdown)) / 1024
			body = fmt.Sprintf("Done: extracted %.1fKB markdown for %s", sizeKB, job.URL)
		} else {
			retryability := "fatal"
			if job.Error != nil && job.Error.Retryable {
				retryability = "retryable"
			}
			msg := ""
			if job.Error != nil {
				msg = job.Error.Message
			}
			body = fmt.Sprintf("Failed (%s): %s", retryability, msg)
		}

		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "gh", "issue", "comment", itoa(job.IssueRef),
			"--body", body, "--repo", b.githubRepo)
		if out, err := cmd.CombinedOutput(); err != nil {
			b.logger.Warn("issue comment: gh invocation failed", "job_id", job.ID, "issue_ref", job.IssueRef, "error", err, "output", string(out))
			return
		}
		b.logger.Info("issue comment: posted", "job_id", job.ID, "issue_ref", job.IssueRef)
	}()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
