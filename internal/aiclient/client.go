package aiclient

import (
	"bookbot/model"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrRecognizer = errors.New("recognizer error")

const defaultTimeout = 10 * time.Second

// Client calls the external intent recognizer over HTTP.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Recognize posts the message to /recognize and decodes the top intent with its entities.
func (c *Client) Recognize(ctx context.Context, req model.RecognitionRequest) (model.RecognitionResult, error) {
	var out model.RecognitionResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/recognize")
	if err != nil {
		return model.RecognitionResult{}, fmt.Errorf("%w: %v", ErrRecognizer, err)
	}
	if resp.IsError() {
		return model.RecognitionResult{}, fmt.Errorf("%w: status %d: %s", ErrRecognizer, resp.StatusCode(), resp.String())
	}
	return out, nil
}
