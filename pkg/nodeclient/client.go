// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package nodeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
)

// Per-method timeouts from the node wire contract.
const (
	healthTimeout  = 5 * time.Second
	meterTimeout   = 5 * time.Second
	captureTimeout = 15 * time.Second
	bracketTimeout = 30 * time.Second
	deployTimeout  = 10 * time.Second
	imageTimeout   = 30 * time.Second

	// Fixed backoff; the per-tick deadline is short and bursty, exponential
	// backoff would just eat the window.
	retryWait   = 2 * time.Second
	maxAttempts = 3
)

// Client talks to one camera node. Safe for concurrent use; it enforces no
// per-node serialization, that is the scheduler's choice.
type Client struct {
	node     *config.Node
	identity string

	health  *resty.Client
	meter   *resty.Client
	capture *resty.Client
	bracket *resty.Client
	deploy  *resty.Client
	image   *resty.Client
}

// New builds a client for the node. identity is forwarded as the
// primary_backend token on capture and deploy requests.
func New(node *config.Node, identity string) *Client {
	return &Client{
		node:     node,
		identity: identity,
		health:   newRestyClient(node, healthTimeout, false),
		meter:    newRestyClient(node, meterTimeout, true),
		capture:  newRestyClient(node, captureTimeout, true),
		bracket:  newRestyClient(node, bracketTimeout, true),
		deploy:   newRestyClient(node, deployTimeout, true),
		image:    newRestyClient(node, imageTimeout, true),
	}
}

func newRestyClient(node *config.Node, timeout time.Duration, withRetry bool) *resty.Client {
	c := resty.New().
		SetBaseURL(node.BaseURL()).
		SetTimeout(timeout)
	if withRetry {
		c.SetRetryCount(maxAttempts - 1).
			SetRetryWaitTime(retryWait).
			SetRetryMaxWaitTime(retryWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				// Retry only network-layer failures. HTTP 4xx/5xx are
				// surfaced to the caller with status and body intact.
				return isNetworkError(err)
			})
	}
	return c
}

func (c *Client) NodeID() string {
	return c.node.ID
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	out := &HealthStatus{}
	resp, err := c.health.R().
		SetContext(ctx).
		SetResult(out).
		Get("/health")
	if err := c.wrap("health", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Meter(ctx context.Context) (*MeterReading, error) {
	out := &MeterReading{}
	resp, err := c.meter.R().
		SetContext(ctx).
		SetResult(out).
		Get("/meter")
	if err := c.wrap("meter", resp, err); err != nil {
		return nil, err
	}
	out.Taken = time.Now()
	return out, nil
}

func (c *Client) Capture(ctx context.Context, req *CaptureRequest) (*CaptureResponse, error) {
	req.PrimaryBackend = c.identity
	out := &CaptureResponse{}
	resp, err := c.capture.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		Post("/capture")
	if err := c.wrap("capture", resp, err); err != nil {
		return nil, err
	}
	if out.Status != StatusSuccess {
		return nil, &HTTPError{Op: "capture", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}

func (c *Client) CaptureBracket(ctx context.Context, req *BracketRequest) (*BracketResponse, error) {
	req.PrimaryBackend = c.identity
	out := &BracketResponse{}
	resp, err := c.bracket.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(out).
		Post("/capture-bracket")
	if err := c.wrap("capture-bracket", resp, err); err != nil {
		return nil, err
	}
	if out.Status != StatusSuccess {
		return nil, &HTTPError{Op: "capture-bracket", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}

func (c *Client) DeployProfile(ctx context.Context, req *DeployProfileRequest) error {
	req.PrimaryBackend = c.identity
	resp, err := c.deploy.R().
		SetContext(ctx).
		SetBody(req).
		Post("/profile/deploy")
	return c.wrap("deploy-profile", resp, err)
}

// FetchImage downloads one image into localPath.
func (c *Client) FetchImage(ctx context.Context, profileID, filename, localPath string) error {
	resp, err := c.image.R().
		SetContext(ctx).
		SetOutput(localPath).
		Get(fmt.Sprintf("/images/%s/%s", profileID, filename))
	return c.wrap("image", resp, err)
}

func (c *Client) wrap(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	if resp.IsError() {
		return &HTTPError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Body:       bodySnippet(resp.Body()),
		}
	}
	return nil
}
