package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AudioRoute is where LocalAudioStore files are served.
const AudioRoute = "/audio/"

// LocalAudioStore writes audio to a directory served by this process.
type LocalAudioStore struct {
	dir     string
	baseURL string
}

// NewLocalAudioStore creates the directory if needed. baseURL is the public
// origin the carrier uses to reach this server.
func NewLocalAudioStore(dir, baseURL string) (*LocalAudioStore, error) {
	if dir == "" {
		return nil, errors.New("audio directory is required")
	}
	if baseURL == "" {
		return nil, errors.New("public base URL is required to serve audio")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	return &LocalAudioStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save writes the audio file and returns its URL.
func (s *LocalAudioStore) Save(ctx context.Context, name string, audio *Audio) (string, error) {
	if filepath.Base(name) != name {
		return "", fmt.Errorf("invalid audio file name %q", name)
	}

	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, audio.Data, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write audio: %w", err)
	}

	return s.baseURL + AudioRoute + name, nil
}

// Handler serves stored files under AudioRoute without directory listings.
func (s *LocalAudioStore) Handler() http.Handler {
	files := http.StripPrefix(AudioRoute, http.FileServer(http.Dir(s.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasSuffix(r.URL.Path, ".tmp") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// S3AudioConfig configures an S3-compatible audio bucket.
type S3AudioConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	PublicBaseURL   string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3AudioStore uploads audio to a publicly readable bucket.
type S3AudioStore struct {
	client  *s3.Client
	bucket  string
	prefix  string
	baseURL string
}

// NewS3AudioStore creates a new S3-backed audio store.
func NewS3AudioStore(ctx context.Context, cfg S3AudioConfig) (*S3AudioStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3AudioStore{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: publicBaseURL(cfg, bucket, region),
	}, nil
}

// Save uploads the audio and returns its public URL.
func (s *S3AudioStore) Save(ctx context.Context, name string, audio *Audio) (string, error) {
	key := s.objectKey(name)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(audio.Data),
		ContentLength: aws.Int64(int64(len(audio.Data))),
	}
	if audio.ContentType != "" {
		input.ContentType = aws.String(audio.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

func (s *S3AudioStore) objectKey(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func publicBaseURL(cfg S3AudioConfig, bucket, region string) string {
	if u := strings.TrimRight(cfg.PublicBaseURL, "/"); u != "" {
		return u
	}
	if endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"); endpoint != "" {
		return endpoint + "/" + bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
}
