package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/receiptprint/internal/source"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// QueueDepths reports the batch stream and dead-letter lengths.
type QueueDepths interface {
	Depths(ctx context.Context) (int64, int64, error)
}

// Checker aggregates health checks for the services the app depends on.
type Checker struct {
	redis    RedisPinger
	queue    QueueDepths
	s3Bucket string
	s3       source.S3Options
	engine   func() string
}

// Options configures the Checker.
type Options struct {
	Redis    RedisPinger
	Queue    QueueDepths
	S3Bucket string
	S3       source.S3Options
	// Engine returns the resolved rasterization engine name.
	Engine func() string
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis    Status `json:"redis"`
	Queue    Status `json:"queue"`
	S3       Status `json:"s3"`
	Renderer Status `json:"renderer"`
}

// OK reports whether the subsystems required for cropping are up. S3 is optional.
func (s Summary) OK() bool {
	return s.Redis.OK && s.Renderer.OK
}

func New(opts Options) *Checker {
	return &Checker{
		redis:    opts.Redis,
		queue:    opts.Queue,
		s3Bucket: opts.S3Bucket,
		s3:       opts.S3,
		engine:   opts.Engine,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:    c.checkRedis(ctx),
		Queue:    c.checkQueue(ctx),
		S3:       c.checkS3(ctx),
		Renderer: c.checkRenderer(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkQueue(ctx context.Context) Status {
	if c.queue == nil {
		return Status{OK: false, Message: "queue unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	stream, dlq, err := c.queue.Depths(ctx)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: fmt.Sprintf("%d pending, %d dead-lettered", stream, dlq)}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cfg, err := source.LoadAWSConfig(ctx, c.s3)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	cli := s3.NewFromConfig(cfg)
	_, err = cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.s3Bucket)})
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkRenderer() Status {
	if c.engine == nil {
		return Status{OK: false, Message: "not configured"}
	}
	return Status{OK: true, Message: c.engine()}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
