package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/hive-online/pkg/types"
)

var ErrTimeout = errors.New("provisioning timed out")
var ErrNotFound = errors.New("worker not found")
var ErrRetryExhausted = errors.New("failed to request worker")
var ErrInvalidResponse = errors.New("invalid worker response")
var ErrUnexpected = errors.New("unexpected worker error")

const (
	DefaultTimeout = 6 * time.Second
	DefaultProgram = "broadcast"
)

// Instance is a provisioned relay: URL answers per-relay requests, Server is
// the bootstrap endpoint it was obtained from.
type Instance struct {
	URL    string
	Server string
}

type Options struct {
	Alias string
	// Program names the relay kind requested from the bootstrap endpoint.
	Program string
	// Retry is how many extra provision-and-request cycles a 404 may cause.
	Retry int
	// Timeout bounds provisioning and is the first 404 backoff delay.
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor hides provisioning of one room's relay. The instance is
// memoized until a 404 shows it was recycled; concurrent callers share one
// in-flight provisioning call.
type Supervisor struct {
	bootstrap string
	opts      Options
	client    *http.Client
	log       *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu     sync.Mutex
	cached *Instance
}

func New(bootstrap string, opts Options) *Supervisor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Program == "" {
		opts.Program = DefaultProgram
	}
	if opts.Retry < 0 {
		opts.Retry = 0
	}
	s := &Supervisor{
		bootstrap: bootstrap,
		opts:      opts,
		client:    opts.Client,
		log:       opts.Logger,
		sleep:     opts.Sleep,
	}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("room", opts.Alias))
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	return s
}

func (s *Supervisor) Alias() string { return s.opts.Alias }

// Active reports whether an instance is currently cached.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached != nil
}

// Invalidate drops the cached instance; the next access provisions again.
func (s *Supervisor) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Instance returns the room's relay, provisioning it on first use.
// A failed provisioning caches nothing.
func (s *Supervisor) Instance(ctx context.Context) (Instance, error) {
	if inst, ok := s.lookup(); ok {
		return inst, nil
	}

	ch := s.group.DoChan(s.opts.Alias, func() (any, error) {
		if inst, ok := s.lookup(); ok {
			return inst, nil
		}
		// Shared by every waiter, so only the timeout may end it.
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()

		inst, err := s.provision(pctx)
		if err != nil {
			s.log.Warn("provisioning failed", zap.Error(err))
			return Instance{}, err
		}
		s.mu.Lock()
		s.cached = &inst
		s.mu.Unlock()
		s.log.Info("relay provisioned", zap.String("url", inst.URL))
		return inst, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Instance{}, res.Err
		}
		return res.Val.(Instance), nil
	case <-ctx.Done():
		return Instance{}, ctx.Err()
	}
}

// Request posts message to the room's relay and returns the relay's message.
func (s *Supervisor) Request(ctx context.Context, message any) (json.RawMessage, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	retry := s.opts.Retry
	delay := s.opts.Timeout
	for {
		inst, err := s.Instance(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := s.post(ctx, inst.URL, types.WorkerRequest{Message: payload})
		if err != nil {
			return nil, err
		}
		// Cooperative long-poll: follow up with an empty request until the
		// relay stops asking.
		for resp.Poll > 0 && resp.Error == nil && resp.Message == nil {
			if err := s.sleep(ctx, time.Duration(resp.Poll)*time.Millisecond); err != nil {
				return nil, err
			}
			if resp, err = s.post(ctx, inst.URL, types.WorkerRequest{}); err != nil {
				return nil, err
			}
		}

		if resp.Error != nil {
			if resp.Error.Status == http.StatusNotFound {
				s.Invalidate()
				if retry > 0 {
					retry--
					s.log.Info("relay recycled, retrying", zap.Duration("delay", delay), zap.Int("left", retry))
					if err := s.sleep(ctx, delay); err != nil {
						return nil, err
					}
					delay *= 2
					continue
				}
				return nil, fmt.Errorf("%w: %w", ErrRetryExhausted, ErrNotFound)
			}
			if resp.Error.Message != "" {
				return nil, resp.Error
			}
			return nil, ErrUnexpected
		}
		if resp.Message != nil {
			return resp.Message, nil
		}
		return nil, ErrInvalidResponse
	}
}

// Endpoint resolves the duplex endpoint of the room's relay.
func (s *Supervisor) Endpoint(ctx context.Context) (string, error) {
	inst, err := s.Instance(ctx)
	if err != nil {
		return "", err
	}
	return DeriveEndpoint(inst)
}

// DeriveEndpoint swaps http for ws on the server and maps the instance path
// from /workers/ to /ws/.
func DeriveEndpoint(inst Instance) (string, error) {
	worker, err := url.Parse(inst.URL)
	if err != nil {
		return "", fmt.Errorf("instance url: %w", err)
	}
	ws, err := url.Parse(inst.Server)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	ws.Scheme = strings.Replace(ws.Scheme, "http", "ws", 1)
	ws.Path = strings.Replace(worker.Path, "/workers/", "/ws/", 1)
	ws.RawPath = strings.Replace(worker.RawPath, "/workers/", "/ws/", 1)
	ws.RawQuery = ""
	return ws.String(), nil
}

func (s *Supervisor) lookup() (Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return Instance{}, false
	}
	return *s.cached, true
}

func (s *Supervisor) provision(ctx context.Context) (Instance, error) {
	resp, err := s.post(ctx, s.bootstrap, types.ProvisionRequest{
		URL: s.opts.Program,
		Options: types.ProvisionOptions{
			Alias: s.opts.Alias,
			Retry: s.opts.Retry,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Instance{}, ErrTimeout
		}
		return Instance{}, err
	}
	if resp.Error != nil {
		return Instance{}, resp.Error
	}
	if resp.URL == "" {
		return Instance{}, ErrInvalidResponse
	}
	return Instance{URL: resp.URL, Server: s.bootstrap}, nil
}

func (s *Supervisor) post(ctx context.Context, target string, body any) (types.WorkerResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.WorkerResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return types.WorkerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return types.WorkerResponse{}, fmt.Errorf("post %s: %w", target, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return types.WorkerResponse{}, fmt.Errorf("read %s: %w", target, err)
	}

	var out types.WorkerResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if res.StatusCode >= 300 {
			return types.WorkerResponse{Error: &types.WorkerError{
				Message: http.StatusText(res.StatusCode),
				Status:  res.StatusCode,
			}}, nil
		}
		return types.WorkerResponse{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if out.Error != nil && out.Error.Status == 0 && res.StatusCode >= 300 {
		out.Error.Status = res.StatusCode
	}
	if out.Error == nil && res.StatusCode >= 300 {
		out.Error = &types.WorkerError{Message: http.StatusText(res.StatusCode), Status: res.StatusCode}
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry memoizes one Supervisor per room alias.
type Registry struct {
	bootstrap string
	opts      Options

	mu      sync.Mutex
	workers map[string]*Supervisor
}

func NewRegistry(bootstrap string, opts Options) *Registry {
	return &Registry{bootstrap: bootstrap, opts: opts, workers: map[string]*Supervisor{}}
}

func (r *Registry) Get(alias string) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.workers[alias]; ok {
		return s
	}
	opts := r.opts
	opts.Alias = alias
	s := New(r.bootstrap, opts)
	r.workers[alias] = s
	return s
}
