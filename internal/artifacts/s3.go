package artifacts

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// S3StoreConfig configures an S3-compatible artifact store.
type S3StoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLExpiry       time.Duration
	PreviewRows     int
}

// S3Store persists each artifact as three objects under
// <prefix>/<run>/<artifact>/: data.csv, preview.json and metadata.json.
// Downloads are presigned GETs against data.csv. Expiry is left to bucket
// lifecycle rules.
type S3Store struct {
	client      *s3.Client
	presigner   *s3.PresignClient
	bucket      string
	prefix      string
	urlExpiry   time.Duration
	previewRows int
}

type s3Metadata struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	Columns          []string `json:"columns"`
	OriginalRowCount int      `json:"original_row_count"`
	ExportedRowCount int      `json:"exported_row_count"`
}

type s3Preview struct {
	Rows []map[string]any `json:"rows"`
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg *S3StoreConfig) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
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
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	urlExpiry := cfg.URLExpiry
	if urlExpiry <= 0 {
		urlExpiry = 15 * time.Minute
	}
	previewRows := cfg.PreviewRows
	if previewRows < 1 {
		previewRows = 1
	}

	return &S3Store{
		client:      client,
		presigner:   s3.NewPresignClient(client),
		bucket:      bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		urlExpiry:   urlExpiry,
		previewRows: previewRows,
	}, nil
}

func (s *S3Store) objectKey(runID, artifactID, filename string) string {
	base := path.Join(runID, artifactID, filename)
	if s.prefix == "" {
		return base
	}
	return path.Join(s.prefix, base)
}

func (s *S3Store) putObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// getJSON fetches and decodes an object, mapping missing keys to nil.
func (s *S3Store) getJSON(ctx context.Context, key string, out any) (bool, error) {
	body, found, err := s.getObject(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read s3 object: %w", err)
	}
	return body, true, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && strings.EqualFold(apiErr.ErrorCode(), "NotFound")
}

// StoreTable uploads the table as CSV plus its preview and metadata.
func (s *S3Store) StoreTable(ctx context.Context, runID string, table *Table) (*Ref, error) {
	artifactID := fmt.Sprintf("a_%s_%s", runPrefix(runID), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

	csvBody, err := EncodeCSV(table)
	if err != nil {
		return nil, err
	}
	if err := s.putObject(ctx, s.objectKey(runID, artifactID, "data.csv"), csvBody, "text/csv"); err != nil {
		return nil, err
	}

	preview := previewOf(table, s.previewRows)
	previewBody, err := json.Marshal(s3Preview{Rows: preview.Rows})
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if err := s.putObject(ctx, s.objectKey(runID, artifactID, "preview.json"), previewBody, "application/json"); err != nil {
		return nil, err
	}

	metaBody, err := json.Marshal(s3Metadata{
		ID:               artifactID,
		Type:             "table",
		Columns:          table.Columns,
		OriginalRowCount: table.RowCount(),
		ExportedRowCount: preview.ExportedRowCount,
	})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.putObject(ctx, s.objectKey(runID, artifactID, "metadata.json"), metaBody, "application/json"); err != nil {
		return nil, err
	}

	return &Ref{ID: artifactID, Type: "table", RowCount: table.RowCount()}, nil
}

// GetMetadata returns the artifact's reference, or nil when absent.
func (s *S3Store) GetMetadata(ctx context.Context, runID, artifactID string) (*Ref, error) {
	var meta s3Metadata
	found, err := s.getJSON(ctx, s.objectKey(runID, artifactID, "metadata.json"), &meta)
	if err != nil || !found {
		return nil, err
	}
	id := meta.ID
	if id == "" {
		id = artifactID
	}
	typ := meta.Type
	if typ == "" {
		typ = "table"
	}
	return &Ref{ID: id, Type: typ, RowCount: meta.OriginalRowCount}, nil
}

// GetPreview returns the persisted preview rows, or nil when absent.
func (s *S3Store) GetPreview(ctx context.Context, runID, artifactID string) (*Preview, error) {
	var meta s3Metadata
	found, err := s.getJSON(ctx, s.objectKey(runID, artifactID, "metadata.json"), &meta)
	if err != nil || !found {
		return nil, err
	}
	var preview s3Preview
	found, err = s.getJSON(ctx, s.objectKey(runID, artifactID, "preview.json"), &preview)
	if err != nil || !found {
		return nil, err
	}
	return &Preview{
		Rows:             preview.Rows,
		Columns:          meta.Columns,
		OriginalRowCount: meta.OriginalRowCount,
		ExportedRowCount: len(preview.Rows),
	}, nil
}

// GetDownload presigns a GET against the artifact's CSV object.
func (s *S3Store) GetDownload(ctx context.Context, runID, artifactID string) (*Download, error) {
	key := s.objectKey(runID, artifactID, "data.csv")
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, func(o *s3.PresignOptions) {
		o.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign s3 get: %w", err)
	}
	return &Download{
		URL:              req.URL,
		ExpiresInSeconds: int(s.urlExpiry.Seconds()),
		Method:           "GET",
	}, nil
}

// GetTable reads back the CSV object. Cell values come back as strings since
// CSV carries no types; server-side consumers treat them as display values.
func (s *S3Store) GetTable(ctx context.Context, runID, artifactID string) (*Table, error) {
	body, found, err := s.getObject(ctx, s.objectKey(runID, artifactID, "data.csv"))
	if err != nil || !found {
		return nil, err
	}
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse artifact csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}
	columns := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return &Table{Columns: columns, Rows: rows}, nil
}
