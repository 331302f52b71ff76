package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/pkg/errors"
)

const DefaultPrefix = "transcripts"

// ArchiveConfig points at an S3 compatible bucket (AWS, Spaces, MinIO).
type ArchiveConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Archive copies finished transcripts to object storage as JSON documents.
type Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// Document is the stored form of one transcript.
type Document struct {
	VideoID     string            `json:"video_id"`
	Title       string            `json:"title,omitempty"`
	SourceURL   string            `json:"source_url"`
	Method      models.Method     `json:"method"`
	Language    string            `json:"language,omitempty"`
	Text        string            `json:"text"`
	Segments    []models.Segment  `json:"segments,omitempty"`
	Origin      map[string]string `json:"origin,omitempty"`
	BatchID     string            `json:"batch_id"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Key is the object key for a video.
func (a *Archive) Key(videoID string) string {
	return path.Join(a.prefix, videoID+".json")
}

// Save uploads a successful result and returns its key.
func (a *Archive) Save(ctx context.Context, batchID string, res models.ExtractionResult) (string, error) {
	if !res.Success {
		return "", errors.Errorf("refusing to archive failed result for %s", res.Task.ID)
	}
	extracted := res.FinishedAt
	if extracted.IsZero() {
		extracted = time.Now()
	}

	data, err := json.Marshal(Document{
		VideoID:     res.Task.ID,
		Title:       res.Task.Title,
		SourceURL:   res.Task.SourceURL,
		Method:      res.Method,
		Language:    res.Language,
		Text:        res.Text,
		Segments:    res.Segments,
		Origin:      res.Task.Origin,
		BatchID:     batchID,
		ExtractedAt: extracted.UTC(),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal transcript")
	}

	key := a.Key(res.Task.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}
	return key, nil
}

// Load fetches a previously archived transcript.
func (a *Archive) Load(ctx context.Context, videoID string) (Document, error) {
	key := a.Key(videoID)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to download %s", key)
	}
	defer out.Body.Close()

	var doc Document
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return Document{}, errors.Wrapf(err, "failed to decode %s", key)
	}
	return doc, nil
}
