// Package revisions archives item snapshots to S3-compatible object storage
// in response to ItemRevisionCreationRequested events.
package revisions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/danmarauda/server/internal/common"
	"github.com/danmarauda/server/internal/logging"
	sc "github.com/danmarauda/server/internal/server/config"
	"github.com/danmarauda/server/internal/server/events"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		return c.PutObject(ctx, in, optFns...)
	}
)

// Archive snapshots items into a bucket, one object per revision, keyed
// revisions/<user>/<item>/<updated_at>.
type Archive struct {
	repo   itemsrepo.Repository
	config *sc.Config
	logger logging.Logger
}

func NewArchive(repo itemsrepo.Repository, config *sc.Config, logger logging.Logger) *Archive {
	return &Archive{
		repo:   repo,
		config: config,
		logger: logger.With("module", "revisions"),
	}
}

func (a *Archive) getS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(a.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.config.S3RootUser,     // MINIO_ROOT_USER
			a.config.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(a.config.S3BaseEndpoint)
		o.UsePathStyle = true
	})
	return client, nil
}

// HandleEvent is the events.Handler wired to ItemRevisionCreationRequested.
func (a *Archive) HandleEvent(ctx context.Context, event events.Event) error {
	request, ok := event.(events.ItemRevisionCreationRequested)
	if !ok {
		return fmt.Errorf("unexpected event type %s", event.EventType())
	}
	return a.ArchiveItem(ctx, request.UserUUID, request.ItemUUID)
}

// ArchiveItem snapshots the current state of one item. A vanished item is
// not an error: the revision request may outlive the item.
func (a *Archive) ArchiveItem(ctx context.Context, userUUID, itemUUID string) error {
	item, err := a.repo.FindByUUID(ctx, userUUID, itemUUID)
	if errors.Is(err, common.ErrNotFound) {
		a.logger.Warn(ctx, "item vanished before revision snapshot", "item", itemUUID)
		return nil
	}
	if err != nil {
		return err
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("error encoding revision: %w", err)
	}

	client, err := a.getS3Client(ctx)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("revisions/%s/%s/%d", userUUID, itemUUID, item.UpdatedAtTimestamp)
	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.config.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("error uploading revision %s: %w", key, err)
	}

	a.logger.Info(ctx, "archived revision", "item", itemUUID, "key", key)
	return nil
}
