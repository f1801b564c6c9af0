package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"strings"
	"time"

	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/logger"
	"github.com/pelusa-v/groupchat/internal/metrics"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL = "https://api.cloudinary.com"
	defaultTimeout = 30 * time.Second
	maxParallel    = 4
)

// File is one image picked for upload.
type File struct {
	Name string
	Data []byte
}

// Result is the image host's answer for one uploaded file.
type Result struct {
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
}

type Config struct {
	CloudName    string
	UploadPreset string
	BaseURL      string
	Timeout      time.Duration
}

// Cloudinary uploads images with an unsigned upload preset.
type Cloudinary struct {
	cfg    Config
	client *fasthttp.Client
}

type Option func(*Cloudinary)

// WithDial replaces the client dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Cloudinary) { c.client.Dial = dial }
}

func NewCloudinary(cfg Config, opts ...Option) *Cloudinary {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Cloudinary{
		cfg: cfg,
		client: &fasthttp.Client{
			Name:                "groupchat",
			MaxConnsPerHost:     maxParallel * 2,
			MaxIdleConnDuration: time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether both the cloud name and the upload preset are set.
func (c *Cloudinary) Configured() bool {
	return c != nil && c.cfg.CloudName != "" && c.cfg.UploadPreset != ""
}

func (c *Cloudinary) endpoint() string {
	return fmt.Sprintf("%s/v1_1/%s/image/upload", c.cfg.BaseURL, c.cfg.CloudName)
}

// Upload sends every file and returns results in input order. It is all or
// nothing: if any file fails the whole batch fails with a *chat.UploadError
// and no results are returned.
func (c *Cloudinary) Upload(ctx context.Context, files []File) ([]Result, error) {
	if !c.Configured() {
		return nil, chat.ErrUploaderConfig
	}
	if len(files) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			res, err := c.uploadOne(gctx, f)
			if err != nil {
				return &chat.UploadError{Index: i, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.UploadFailures.Inc()
		logger.Warn("image_upload_failed", "files", len(files), "error", err)
		return nil, err
	}
	logger.Debug("image_upload_done", "files", len(files))
	return results, nil
}

func (c *Cloudinary) uploadOne(ctx context.Context, f File) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(f.Data) == 0 {
		return Result{}, errors.New("empty file")
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("upload_preset", c.cfg.UploadPreset); err != nil {
		return Result{}, err
	}
	name := f.Name
	if name == "" {
		name = "image"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(f.Data); err != nil {
		return Result{}, err
	}
	if err := w.Close(); err != nil {
		return Result{}, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.endpoint())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(w.FormDataContentType())
	req.SetBody(body.Bytes())

	if err := c.client.DoTimeout(req, resp, c.timeout(ctx)); err != nil {
		return Result{}, err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return Result{}, fmt.Errorf("image host returned %d: %s", code, errorMessage(resp.Body()))
	}
	var res Result
	if err := json.Unmarshal(resp.Body(), &res); err != nil {
		return Result{}, fmt.Errorf("decode upload response: %w", err)
	}
	if res.SecureURL == "" {
		return Result{}, errors.New("upload response has no secure_url")
	}
	return res, nil
}

func (c *Cloudinary) timeout(ctx context.Context) time.Duration {
	t := c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < t {
			t = left
		}
	}
	return t
}

func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// URLs returns the secure url of each result.
func URLs(results []Result) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.SecureURL)
	}
	return out
}
