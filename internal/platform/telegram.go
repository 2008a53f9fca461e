package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Telegram implements Adapter for Telegram channels. Public post metrics
// come from the t.me embed pages; posting and admin checks go through the
// bot's internal HTTP API.
type Telegram struct {
	botURL     string
	httpClient *http.Client
	maxRetries int
	log        *zap.Logger
}

func NewTelegram(botURL string, timeoutMS, maxRetries int, log *zap.Logger) *Telegram {
	return &Telegram{
		botURL: strings.TrimRight(botURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		maxRetries: maxRetries,
		log:        log,
	}
}

func (t *Telegram) CanPost(ctx context.Context, channelID string) (bool, error) {
	url := fmt.Sprintf("%s/internal/channels/%s/can_post", t.botURL, channelID)
	var result struct {
		CanPost bool `json:"can_post"`
	}
	if err := t.getJSON(ctx, url, &result); err != nil {
		return false, err
	}
	return result.CanPost, nil
}

func (t *Telegram) PublishPost(ctx context.Context, channelID, text string, mediaURL, mediaType *string) (*PublishedPost, error) {
	body, _ := json.Marshal(map[string]any{
		"text":       text,
		"media_url":  mediaURL,
		"media_type": mediaType,
	})

	url := fmt.Sprintf("%s/internal/channels/%s/post", t.botURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &AdapterUnavailableError{Platform: "telegram", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, &ForbiddenError{ChannelID: channelID, Reason: "bot lost posting rights"}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &AdapterUnavailableError{
			Platform: "telegram",
			Err:      fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b)),
		}
	}

	var result struct {
		MessageID int64  `json:"message_id"`
		PostURL   string `json:"post_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &PublishedPost{PostID: strconv.FormatInt(result.MessageID, 10), URL: result.PostURL}, nil
}

func (t *Telegram) FetchPostMetrics(ctx context.Context, channelID, postID string) (*PostMetrics, error) {
	messageID, err := strconv.ParseInt(postID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram post id %q: %w", postID, err)
	}

	url := fmt.Sprintf("https://t.me/%s/%d?embed=1", channelID, messageID)

	var doc *goquery.Document
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")

		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return &PostMetrics{Exists: false}, nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, &AdapterUnavailableError{Platform: "telegram", Err: lastErr}
	}

	// t.me serves a stub page without the message widget once a post is gone.
	if doc.Find(".tgme_widget_message").Length() == 0 {
		return &PostMetrics{Exists: false}, nil
	}

	metrics := &PostMetrics{Exists: true}
	doc.Find(".tgme_widget_message_views").Each(func(_ int, s *goquery.Selection) {
		if n := parseCount(strings.TrimSpace(s.Text())); n > 0 {
			metrics.Views = &n
		}
	})
	// Telegram embeds expose neither likes nor comment counts; left nil so
	// such requirements stay unmet unless waived.
	return metrics, nil
}

func (t *Telegram) VerifyPostExists(ctx context.Context, channelID, postID string) (bool, error) {
	m, err := t.FetchPostMetrics(ctx, channelID, postID)
	if err != nil {
		return false, err
	}
	return m.Exists, nil
}

func (t *Telegram) VerifyUserAdmin(ctx context.Context, channelID string, userID int64) (bool, error) {
	url := fmt.Sprintf("%s/internal/channels/%s/check_admin?telegram_user_id=%d", t.botURL, channelID, userID)
	var result struct {
		IsAdmin         bool `json:"is_admin"`
		CanPostMessages bool `json:"can_post_messages"`
	}
	if err := t.getJSON(ctx, url, &result); err != nil {
		return false, err
	}
	return result.IsAdmin && result.CanPostMessages, nil
}

func (t *Telegram) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return &AdapterUnavailableError{Platform: "telegram", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &AdapterUnavailableError{
			Platform: "telegram",
			Err:      fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(body)),
		}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var viewCountRE = regexp.MustCompile(`[\d,.]+[KkMm]?`)

func parseCount(text string) int64 {
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, ",", "")

	match := viewCountRE.FindString(text)
	if match == "" {
		return 0
	}

	multiplier := int64(1)
	if strings.HasSuffix(match, "K") || strings.HasSuffix(match, "k") {
		multiplier = 1000
		match = match[:len(match)-1]
	} else if strings.HasSuffix(match, "M") || strings.HasSuffix(match, "m") {
		multiplier = 1000000
		match = match[:len(match)-1]
	}

	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return int64(f * float64(multiplier))
}
