package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/relaydesk/bulk-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

// jobView mirrors the job payload returned by the API.
type jobView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Channel         string `json:"channel"`
	TotalRecipients int    `json:"total_recipients"`
	SentCount       int    `json:"sent_count"`
	FailedCount     int    `json:"failed_count"`
	Progress        int    `json:"progress_percent"`
}

func main() {
	jobID := argValue("--job=")
	if jobID == "" {
		fmt.Fprintln(os.Stderr, "usage: watch --job=<id> [--addr=http://localhost:8080] [--interval=2s]")
		os.Exit(2)
	}

	addr := argValue("--addr=")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	interval := 2 * time.Second
	if v := argValue("--interval="); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	url := strings.TrimRight(addr, "/") + "/api/v1/bulk/jobs/" + jobID
	client := &fasthttp.Client{}

	for {
		job, err := fetchJob(client, url)
		if err != nil {
			logger.Error("failed to fetch job", "job_id", jobID, "error", err)
			os.Exit(1)
		}

		fmt.Printf("%s  status=%-12s sent=%d failed=%d total=%d progress=%d%%\n",
			time.Now().Format("15:04:05"), job.Status, job.SentCount, job.FailedCount,
			job.TotalRecipients, job.Progress)

		switch job.Status {
		case "completed", "cancelled", "failed":
			return
		}
		time.Sleep(interval)
	}
}

func fetchJob(client *fasthttp.Client, url string) (*jobView, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := client.DoTimeout(req, resp, 5*time.Second); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode(), resp.Body())
	}

	var job jobView
	if err := json.Unmarshal(resp.Body(), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func argValue(prefix string) string {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return ""
}
