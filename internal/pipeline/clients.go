package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Transcriber submits speech-to-text jobs to the external vendor. The vendor
// answers with a correlation ID and later reports the result via webhook.
type Transcriber interface {
	RequestTranscription(ctx context.Context, contentID, url string) (transcriptID string, err error)
}

// Scraper triggers article/post scraping in the external scraping service.
// Scraped text comes back through the scraper's own delivery path; this
// pipeline only fires the trigger.
type Scraper interface {
	TriggerScrape(ctx context.Context, contentID, url string) error
}

// HTTPTranscriber is the production Transcriber.
type HTTPTranscriber struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPTranscriber creates a vendor client.
func NewHTTPTranscriber(baseURL, token string, client *http.Client) *HTTPTranscriber {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTranscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: client,
	}
}

// RequestTranscription submits one job and returns the vendor's correlation
// ID for webhook matching.
func (t *HTTPTranscriber) RequestTranscription(ctx context.Context, contentID, url string) (string, error) {
	body, err := json.Marshal(map[string]string{"contentId": contentID, "audioUrl": url})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/transcripts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request transcription: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("request transcription: status %d", resp.StatusCode)
	}

	var payload struct {
		TranscriptID string `json:"transcript_id"`
		ID           string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	transcriptID := payload.TranscriptID
	if transcriptID == "" {
		transcriptID = payload.ID
	}
	if transcriptID == "" {
		return "", fmt.Errorf("transcription response missing id")
	}
	return transcriptID, nil
}

// HTTPScraper is the production Scraper.
type HTTPScraper struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPScraper creates a scraper client.
func NewHTTPScraper(baseURL string, client *http.Client) *HTTPScraper {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPScraper{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// TriggerScrape fires one scrape request.
func (s *HTTPScraper) TriggerScrape(ctx context.Context, contentID, url string) error {
	body, err := json.Marshal(map[string]string{"contentId": contentID, "url": url})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trigger scrape: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("trigger scrape: status %d", resp.StatusCode)
	}
	return nil
}
