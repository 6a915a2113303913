// Package storage archives raw Aleo blocks to S3-compatible object storage
// (DigitalOcean Spaces in production).
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	awstrace "github.com/DataDog/dd-trace-go/contrib/aws/aws-sdk-go/v2/aws"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/birbparty/aleo-beacon/internal/telemetry"
)

// blocksPerDir groups archived blocks so listings stay small
const blocksPerDir = 10000

// ErrNotArchived is returned when no archive exists for a block
var ErrNotArchived = errors.New("block not archived")

// Archiver stores raw block bodies
type Archiver interface {
	ArchiveBlock(ctx context.Context, network string, height uint32, body []byte) (string, error)
}

// ArchivedObject describes one archived block
type ArchivedObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ArchiveClient provides block archive operations on an S3 bucket
type ArchiveClient struct {
	client     *s3.S3
	bucket     string
	pathPrefix string
}

var _ Archiver = (*ArchiveClient)(nil)

// NewArchiveClient creates a new archive client
func NewArchiveClient(config *Config) (*ArchiveClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.Endpoint != "" {
		// e.g. "nyc3.digitaloceanspaces.com"
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if config.ServiceName != "" {
		sess = awstrace.WrapSession(sess, awstrace.WithService(config.ServiceName))
	}

	return &ArchiveClient{
		client:     s3.New(sess),
		bucket:     config.Bucket,
		pathPrefix: config.PathPrefix,
	}, nil
}

// NetworkPrefix is the key prefix holding every archived block of network
func (a *ArchiveClient) NetworkPrefix(network string) string {
	return fmt.Sprintf("%s%s/blocks/", a.pathPrefix, network)
}

// BlockKey returns the object key of an archived block. Blocks are grouped
// into directories of 10000 heights.
func (a *ArchiveClient) BlockKey(network string, height uint32) string {
	return fmt.Sprintf("%s%d/%d.json", a.NetworkPrefix(network), height/blocksPerDir, height)
}

// ArchiveBlock uploads the JSON body of a block and returns its key
func (a *ArchiveClient) ArchiveBlock(ctx context.Context, network string, height uint32, body []byte) (string, error) {
	key := a.BlockKey(network, height)

	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
		Metadata: map[string]*string{
			"network":      aws.String(network),
			"height":       aws.String(strconv.FormatUint(uint64(height), 10)),
			"archive-time": aws.String(time.Now().UTC().Format(time.RFC3339)),
		},
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive block %d: %w", height, err)
	}

	telemetry.RecordBlockArchived()
	return key, nil
}

// GetArchivedBlock downloads an archived block body
func (a *ArchiveClient) GetArchivedBlock(ctx context.Context, network string, height uint32) ([]byte, error) {
	result, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.BlockKey(network, height)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotArchived
		}
		return nil, fmt.Errorf("failed to get archived block %d: %w", height, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived block %d: %w", height, err)
	}
	return body, nil
}

// ListArchived lists every object under prefix, following continuation tokens
func (a *ArchiveClient) ListArchived(ctx context.Context, prefix string) ([]ArchivedObject, error) {
	var objects []ArchivedObject

	err := a.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ArchivedObject{
				Key:          aws.StringValue(obj.Key),
				Size:         aws.Int64Value(obj.Size),
				LastModified: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	return objects, nil
}

// DeleteArchived deletes an archived object by key
func (a *ArchiveClient) DeleteArchived(ctx context.Context, key string) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}

	return nil
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
