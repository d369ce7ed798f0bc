package recording

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// S3Upload carries object-storage credentials for the egress service.
type S3Upload struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	Secret    string `json:"secret"`
}

// StartRequest describes one audio-only room recording job.
type StartRequest struct {
	RoomName  string
	AudioOnly bool
	Filepath  string
	S3        S3Upload
}

// EgressClient is the boundary to the external job-based recording service.
type EgressClient interface {
	StartRoomComposite(ctx context.Context, req StartRequest) (string, error)
	Stop(ctx context.Context, egressID string) error
	Close() error
}

// DialFunc opens a fresh egress API handle. The controller holds the handle
// only between a start and the matching stop.
type DialFunc func() (EgressClient, error)

// Config gates recording and carries the storage target.
type Config struct {
	Enabled    bool
	Bucket     string
	Region     string
	AccessKey  string
	Secret     string
	PathPrefix string
}

// Result reports the outcome of stopping a recording job.
type Result struct {
	Success  bool
	EgressID string
	Filepath string
	S3URL    string
	Error    string
}

// Info is a side-effect-free view of the current job.
type Info struct {
	EgressID string
	Filepath string
	Active   bool
}

// Controller owns the lifecycle of at most one active recording job per
// session. Start and stop are idempotent: a second start while a job is
// active is a no-op, and stopping without an active job only reports the
// condition.
type Controller struct {
	cfg        Config
	roomName   string
	sessionID  string
	customerID string
	dial       DialFunc
	now        func() time.Time

	mu       sync.Mutex
	client   EgressClient
	egressID string
	filepath string
	active   bool
}

func NewController(cfg Config, roomName, sessionID, customerID string, dial DialFunc) *Controller {
	if sessionID == "" {
		sessionID = "unknown"
	}
	if customerID == "" {
		customerID = "unknown"
	}
	return &Controller{
		cfg:        cfg,
		roomName:   roomName,
		sessionID:  sessionID,
		customerID: customerID,
		dial:       dial,
		now:        time.Now,
	}
}

// Configured reports whether recording is enabled and the storage
// credentials are complete. It guards every Start.
func (c *Controller) Configured() bool {
	if !c.cfg.Enabled {
		log.Printf("recording[%s] disabled via configuration", c.roomName)
		return false
	}
	if c.cfg.Bucket == "" || c.cfg.AccessKey == "" || c.cfg.Secret == "" {
		log.Printf("recording[%s] storage credentials missing, recording disabled", c.roomName)
		return false
	}
	return true
}

// Start launches a new recording job. Returns false without side effects
// when not configured or when a job is already active; external failures are
// logged and reported as false, never propagated.
func (c *Controller) Start(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		log.Printf("recording[%s] already in progress", c.roomName)
		return false
	}

	c.filepath = c.generateFilepath()
	log.Printf("recording[%s] starting egress -> s3://%s/%s", c.roomName, c.cfg.Bucket, c.filepath)

	client, err := c.dial()
	if err != nil {
		log.Printf("recording[%s] egress dial failed: %v", c.roomName, err)
		return false
	}
	c.client = client

	egressID, err := client.StartRoomComposite(ctx, StartRequest{
		RoomName:  c.roomName,
		AudioOnly: true,
		Filepath:  c.filepath,
		S3: S3Upload{
			Bucket:    c.cfg.Bucket,
			Region:    c.cfg.Region,
			AccessKey: c.cfg.AccessKey,
			Secret:    c.cfg.Secret,
		},
	})
	if err != nil {
		log.Printf("recording[%s] egress start failed: %v", c.roomName, err)
		_ = client.Close()
		c.client = nil
		return false
	}

	c.egressID = egressID
	c.active = true
	log.Printf("recording[%s] started egress_id=%s", c.roomName, egressID)
	return true
}

// Stop terminates the active job. The job is marked inactive whether or not
// the external stop call succeeds, and the API handle is released either way.
func (c *Controller) Stop(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{EgressID: c.egressID}
	if !c.active || c.egressID == "" {
		log.Printf("recording[%s] no active recording to stop", c.roomName)
		res.Error = "no_active_recording"
		return res
	}

	defer func() {
		if c.client != nil {
			_ = c.client.Close()
			c.client = nil
		}
	}()

	if c.client == nil {
		client, err := c.dial()
		if err != nil {
			c.active = false
			res.Error = err.Error()
			log.Printf("recording[%s] egress dial failed on stop: %v", c.roomName, err)
			return res
		}
		c.client = client
	}

	log.Printf("recording[%s] stopping egress_id=%s", c.roomName, c.egressID)
	err := c.client.Stop(ctx, c.egressID)
	c.active = false
	if err != nil {
		res.Error = err.Error()
		log.Printf("recording[%s] egress stop failed: %v", c.roomName, err)
		return res
	}

	res.Success = true
	res.Filepath = c.filepath
	res.S3URL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, c.cfg.Region, c.filepath)
	log.Printf("recording[%s] stored %s", c.roomName, res.S3URL)
	return res
}

// Info returns the current job state without side effects.
func (c *Controller) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{EgressID: c.egressID, Filepath: c.filepath, Active: c.active}
}

// generateFilepath builds {prefix}/{customer_id}/{session_id}_{timestamp}.mp4.
// Caller holds the lock.
func (c *Controller) generateFilepath() string {
	ts := c.now().Format("20060102_150405")
	return fmt.Sprintf("%s/%s/%s_%s.mp4", c.cfg.PathPrefix, c.customerID, c.sessionID, ts)
}
