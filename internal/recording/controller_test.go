package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeEgress struct {
	mu       sync.Mutex
	starts   int
	stops    int
	closes   int
	startErr error
	stopErr  error
	lastReq  StartRequest
}

func (f *fakeEgress) StartRoomComposite(_ context.Context, req StartRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.lastReq = req
	if f.startErr != nil {
		return "", f.startErr
	}
	return fmt.Sprintf("eg-%d", f.starts), nil
}

func (f *fakeEgress) Stop(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeEgress) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func enabledConfig() Config {
	return Config{
		Enabled:    true,
		Bucket:     "bucket",
		Region:     "us-east-1",
		AccessKey:  "ak",
		Secret:     "sk",
		PathPrefix: "roleplays/recordings",
	}
}

func newTestController(egress *fakeEgress) *Controller {
	c := NewController(enabledConfig(), "room-1", "sess-1", "cust-1", func() (EgressClient, error) {
		return egress, nil
	})
	c.now = func() time.Time { return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC) }
	return c
}

func TestStartThenDoubleStart(t *testing.T) {
	egress := &fakeEgress{}
	c := newTestController(egress)

	if !c.Start(context.Background()) {
		t.Fatalf("first Start() = false, want true")
	}
	if c.Start(context.Background()) {
		t.Fatalf("second Start() = true, want false")
	}
	if egress.starts != 1 {
		t.Fatalf("egress starts = %d, want 1", egress.starts)
	}
	if got := c.Info(); !got.Active || got.EgressID != "eg-1" {
		t.Fatalf("Info() = %+v", got)
	}
}

func TestStartUnconfiguredNeverDials(t *testing.T) {
	dialed := false
	cfg := enabledConfig()
	cfg.Secret = ""
	c := NewController(cfg, "room-1", "sess-1", "cust-1", func() (EgressClient, error) {
		dialed = true
		return &fakeEgress{}, nil
	})

	if c.Start(context.Background()) {
		t.Fatalf("Start() without credentials = true, want false")
	}
	if dialed {
		t.Fatalf("dial should not happen when unconfigured")
	}
}

func TestStartFailureClosesClient(t *testing.T) {
	egress := &fakeEgress{startErr: errors.New("egress unavailable")}
	c := newTestController(egress)

	if c.Start(context.Background()) {
		t.Fatalf("Start() = true despite egress failure")
	}
	if egress.closes != 1 {
		t.Fatalf("client closes = %d, want 1", egress.closes)
	}
	if c.Info().Active {
		t.Fatalf("controller should not be active after failed start")
	}
}

func TestStopWithoutActiveRecording(t *testing.T) {
	c := newTestController(&fakeEgress{})
	res := c.Stop(context.Background())
	if res.Success {
		t.Fatalf("Stop() succeeded with no active job")
	}
	if res.Error != "no_active_recording" {
		t.Fatalf("Error = %q, want no_active_recording", res.Error)
	}
}

func TestStopBuildsS3URL(t *testing.T) {
	egress := &fakeEgress{}
	c := newTestController(egress)
	c.Start(context.Background())

	res := c.Stop(context.Background())
	if !res.Success {
		t.Fatalf("Stop() = %+v", res)
	}
	wantPath := "roleplays/recordings/cust-1/sess-1_20250314_150926.mp4"
	if res.Filepath != wantPath {
		t.Fatalf("Filepath = %q, want %q", res.Filepath, wantPath)
	}
	wantURL := "https://bucket.s3.us-east-1.amazonaws.com/" + wantPath
	if res.S3URL != wantURL {
		t.Fatalf("S3URL = %q, want %q", res.S3URL, wantURL)
	}
	if egress.closes != 1 {
		t.Fatalf("client closes = %d, want 1", egress.closes)
	}
}

func TestStopFailureStillDeactivates(t *testing.T) {
	egress := &fakeEgress{stopErr: errors.New("job gone")}
	c := newTestController(egress)
	c.Start(context.Background())

	res := c.Stop(context.Background())
	if res.Success || res.Error != "job gone" {
		t.Fatalf("Stop() = %+v", res)
	}
	if c.Info().Active {
		t.Fatalf("controller still active after failed stop")
	}
	if egress.closes != 1 {
		t.Fatalf("client closes = %d, want 1", egress.closes)
	}

	second := c.Stop(context.Background())
	if second.Error != "no_active_recording" {
		t.Fatalf("second Stop() error = %q", second.Error)
	}
}

func TestStartRequestCarriesStorageTarget(t *testing.T) {
	egress := &fakeEgress{}
	c := newTestController(egress)
	c.Start(context.Background())

	req := egress.lastReq
	if !req.AudioOnly {
		t.Fatalf("recording should be audio only")
	}
	if req.RoomName != "room-1" || req.S3.Bucket != "bucket" || req.S3.Region != "us-east-1" {
		t.Fatalf("unexpected request: %+v", req)
	}
}
