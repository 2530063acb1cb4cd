package revisions

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/danmarauda/server/internal/logging"
	sc "github.com/danmarauda/server/internal/server/config"
	"github.com/danmarauda/server/internal/server/events"
	"github.com/danmarauda/server/internal/server/models"
	itemsrepo "github.com/danmarauda/server/internal/server/repositories/items"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) (*Archive, itemsrepo.Repository, *[]s3.PutObjectInput) {
	t.Helper()

	s := miniredis.RunT(t)
	repo, err := itemsrepo.NewRedisRepository("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cfg := &sc.Config{}
	cfg.LoadDefaults()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	var uploads []s3.PutObjectInput

	origLoad := loadDefaultAWSConfig
	origNew := newS3ClientFromConfig
	origPut := putObject
	t.Cleanup(func() {
		loadDefaultAWSConfig = origLoad
		newS3ClientFromConfig = origNew
		putObject = origPut
	})

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, nil
	}
	newS3ClientFromConfig = func(c aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.New(s3.Options{})
	}
	putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		uploads = append(uploads, *in)
		return &s3.PutObjectOutput{}, nil
	}

	return NewArchive(repo, cfg, logger), repo, &uploads
}

func TestArchiveItem_UploadsSnapshot(t *testing.T) {
	archive, repo, uploads := newTestArchive(t)
	ctx := context.Background()

	content := "ciphertext"
	_, err := repo.Save(ctx, &models.Item{
		UUID:               "i-1",
		UserUUID:           "u-1",
		Content:            &content,
		ContentType:        strptr(models.ContentTypeNote),
		UpdatedAtTimestamp: 123,
	})
	require.NoError(t, err)

	require.NoError(t, archive.HandleEvent(ctx, events.ItemRevisionCreationRequested{
		ItemUUID: "i-1",
		UserUUID: "u-1",
	}))

	require.Len(t, *uploads, 1)
	upload := (*uploads)[0]
	assert.Equal(t, "revisions/u-1/i-1/123", aws.ToString(upload.Key))
}

func TestArchiveItem_VanishedItemIsNotAnError(t *testing.T) {
	archive, _, uploads := newTestArchive(t)

	err := archive.ArchiveItem(context.Background(), "u-1", "missing")
	assert.NoError(t, err)
	assert.Empty(t, *uploads)
}

func TestHandleEvent_WrongTypeErrors(t *testing.T) {
	archive, _, _ := newTestArchive(t)

	err := archive.HandleEvent(context.Background(), events.DuplicateItemSynced{ItemUUID: "i-1"})
	assert.Error(t, err)
}

func strptr(s string) *string { return &s }
