// Package directory is the REST client for the group directory and the
// history backfill endpoint.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("directory: unauthorized")

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory: status %d: %s", e.Status, e.Body)
}

// Cache is the optional read-through store for groups and history.
type Cache interface {
	GetHistory(key models.ConversationKey) ([]models.Message, bool)
	SetHistory(key models.ConversationKey, messages []models.Message) error
	GetGroups() ([]models.Group, bool)
	SetGroups(groups []models.Group) error
	InvalidateGroups() error
}

type ClientConfig struct {
	BaseURL         string
	Timeout         time.Duration
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	// BreakerMaxFailures consecutive failures open the circuit for
	// BreakerTimeout.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

type Client struct {
	http    *http.Client
	conf    ClientConfig
	session models.Session
	cb      *gobreaker.CircuitBreaker
	cache   Cache
	log     *zap.SugaredLogger
}

func NewClient(conf ClientConfig, session models.Session, cache Cache, log *zap.SugaredLogger) *Client {
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	if conf.RetryInitial <= 0 {
		conf.RetryInitial = 500 * time.Millisecond
	}
	if conf.RetryMaxElapsed <= 0 {
		conf.RetryMaxElapsed = 30 * time.Second
	}
	if conf.BreakerMaxFailures == 0 {
		conf.BreakerMaxFailures = 5
	}
	if conf.BreakerTimeout <= 0 {
		conf.BreakerTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	conf.BaseURL = strings.TrimRight(conf.BaseURL, "/")

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    conf.MaxIdleConns,
		IdleConnTimeout: conf.IdleConnTimeout,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory",
		MaxRequests: 1,
		Timeout:     conf.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= conf.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool {
			// Client errors say nothing about the directory's health.
			var se *StatusError
			return err == nil || errors.Is(err, ErrUnauthorized) || errors.As(err, &se)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Infof("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		http:    &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:    conf,
		session: session,
		cb:      cb,
		cache:   cache,
		log:     log,
	}
}

// Groups lists the groups the session user belongs to.
func (c *Client) Groups(ctx context.Context) ([]models.Group, error) {
	if c.cache != nil {
		if groups, ok := c.cache.GetGroups(); ok {
			return groups, nil
		}
	}
	var groups []models.Group
	if err := c.do(ctx, http.MethodGet, "/chat/groups", nil, &groups); err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []models.Group{}
	}
	if c.cache != nil {
		if err := c.cache.SetGroups(groups); err != nil {
			c.log.Warnf("Caching groups failed: %v", err)
		}
	}
	return groups, nil
}

type createGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds"`
}

// CreateGroup creates a group. The request is not retried once the server
// may have applied it.
func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Group, error) {
	var group models.Group
	err := c.do(ctx, http.MethodPost, "/chat/groups", createGroupRequest{Name: name, MemberIDs: memberIDs}, &group)
	if err != nil {
		return models.Group{}, err
	}
	if c.cache != nil {
		c.cache.InvalidateGroups()
	}
	return group, nil
}

// History fetches the latest page of key's history. When the directory is
// unreachable the last cached page is returned instead.
func (c *Client) History(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	var messages []models.Message
	path := "/chat/history?conversation=" + url.QueryEscape(string(key))
	err := c.do(ctx, http.MethodGet, path, nil, &messages)
	if err != nil {
		if c.cache != nil && !errors.Is(err, ErrUnauthorized) {
			if cached, ok := c.cache.GetHistory(key); ok {
				c.log.Warnf("History for %s served from cache: %v", key, err)
				return cached, nil
			}
		}
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.SetHistory(key, messages); err != nil {
			c.log.Warnf("Caching history for %s failed: %v", key, err)
		}
	}
	return messages, nil
}

// do runs one request with retries for network errors and 5xx responses.
// 401/403 and other 4xx responses end the retries.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	retryable := method == http.MethodGet

	operation := func() error {
		_, err := c.cb.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, method, path, payload, out)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(fmt.Errorf("directory unavailable: %w", err))
		case errors.Is(err, ErrUnauthorized):
			return backoff.Permanent(err)
		}
		var se *StatusError
		if errors.As(err, &se) || !retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.RetryInitial
	b.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("directory: status %d", e.status)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.conf.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	if c.session.TenantID != "" {
		req.Header.Set("X-Tenant-ID", c.session.TenantID)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		// drain body to reuse the connection
		io.Copy(io.Discard, resp.Body)
		return &serverError{status: resp.StatusCode}
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory: decode %s: %w", path, err)
	}
	return nil
}
