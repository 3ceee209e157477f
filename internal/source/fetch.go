package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3Options configures AWS access. Empty keys fall back to the default chain.
type S3Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// LoadAWSConfig builds an AWS config from opts.
func LoadAWSConfig(ctx context.Context, opts S3Options) (aws.Config, error) {
	var loaders []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// ErrRefNotAllowed is returned for refs outside the configured sources.
var ErrRefNotAllowed = errors.New("ref not allowed")

// FetcherOptions configures a Fetcher. s3:// refs are always accepted.
// Filesystem refs need BaseDir and must resolve inside it; http(s) refs need
// their host listed in AllowedHosts.
type FetcherOptions struct {
	S3           S3Options
	BaseDir      string
	AllowedHosts []string
	HTTPClient   *http.Client
	MaxBytes     int64
}

// Fetcher loads file bytes referenced by:
//   - s3://bucket/key
//   - http(s):// URLs on an allowed host
//   - file://path or plain paths under BaseDir
type Fetcher struct {
	opts  FetcherOptions
	http  *http.Client
	hosts map[string]bool

	s3Once sync.Once
	s3     *s3.Client
	s3Err  error
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	f := &Fetcher{opts: opts, hosts: make(map[string]bool, len(opts.AllowedHosts))}
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts[h] = true
		}
	}
	// redirects stay on allowed hosts
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		if !f.hostAllowed(req.URL) {
			return fmt.Errorf("%w: redirect to %q", ErrRefNotAllowed, req.URL.Host)
		}
		return nil
	}
	f.http = &c
	return f
}

func (f *Fetcher) hostAllowed(u *url.URL) bool {
	return f.hosts[strings.ToLower(u.Host)] || f.hosts[strings.ToLower(u.Hostname())]
}

// Fetch returns the display name and content for ref.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, []byte, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return f.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		return f.fetchFile(strings.TrimPrefix(ref, "file://"))
	default:
		return f.fetchFile(ref)
	}
}

// localPath resolves p inside BaseDir. Relative paths are taken from BaseDir.
func (f *Fetcher) localPath(p string) (string, error) {
	if f.opts.BaseDir == "" {
		return "", fmt.Errorf("%w: filesystem refs are disabled", ErrRefNotAllowed)
	}
	base, err := filepath.Abs(f.opts.BaseDir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the source directory", ErrRefNotAllowed, p)
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		realBase, _ := filepath.EvalSymlinks(base)
		if rel, err := filepath.Rel(realBase, real); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s links outside the source directory", ErrRefNotAllowed, p)
		}
	}
	return p, nil
}

func (f *Fetcher) fetchFile(ref string) (string, []byte, error) {
	p, err := f.localPath(ref)
	if err != nil {
		return "", nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return "", nil, err
	}
	if !st.Mode().IsRegular() {
		return "", nil, fmt.Errorf("%s is not a regular file", filepath.Base(p))
	}
	if f.opts.MaxBytes > 0 && st.Size() > f.opts.MaxBytes {
		return "", nil, fmt.Errorf("file %s exceeds %d bytes", filepath.Base(p), f.opts.MaxBytes)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(p), data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref string) (string, []byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", nil, err
	}
	if !f.hostAllowed(u) {
		return "", nil, fmt.Errorf("%w: host %q is not allowed", ErrRefNotAllowed, u.Host)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", nil, err
	}
	if f.opts.MaxBytes > 0 && int64(len(data)) > f.opts.MaxBytes {
		return "", nil, fmt.Errorf("download exceeds %d bytes", f.opts.MaxBytes)
	}
	name := "download"
	if base := path.Base(u.Path); base != "/" && base != "." {
		name = base
	}
	return name, data, nil
}

func (f *Fetcher) client(ctx context.Context) (*s3.Client, error) {
	f.s3Once.Do(func() {
		cfg, err := LoadAWSConfig(ctx, f.opts.S3)
		if err != nil {
			f.s3Err = err
			return
		}
		f.s3 = s3.NewFromConfig(cfg)
	})
	return f.s3, f.s3Err
}

func (f *Fetcher) fetchS3(ctx context.Context, ref string) (string, []byte, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return "", nil, err
	}
	cli, err := f.client(ctx)
	if err != nil {
		return "", nil, err
	}
	buf := manager.NewWriteAtBuffer(nil)
	n, err := manager.NewDownloader(cli).Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	if f.opts.MaxBytes > 0 && n > f.opts.MaxBytes {
		return "", nil, fmt.Errorf("object exceeds %d bytes", f.opts.MaxBytes)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("size", n).Msg("downloaded s3 object")
	return path.Base(key), buf.Bytes(), nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(ref string) (string, string, error) {
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	return p[:slash], p[slash+1:], nil
}
