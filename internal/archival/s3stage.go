package archival

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Snapshotter archives a JSON copy of every staged batch to durable
// object storage ahead of the merge step, giving each pipeline run an
// audit trail independent of the analytical store's own retention.
// Nothing in base.py does this — BigQuery's own staging dataset already
// durable-persists the batch — but DuckDB's staging tables live in the
// same local file as the fact tables, so a run that corrupts the file
// would otherwise take the raw batch down with it.
type Snapshotter struct {
	Uploader *manager.Uploader
	Bucket   string
}

// NewSnapshotter builds a Snapshotter from an s3.Client.
func NewSnapshotter(client *s3.Client, bucket string) *Snapshotter {
	return &Snapshotter{Uploader: manager.NewUploader(client), Bucket: bucket}
}

// Snapshot uploads rows as a single JSON array under
// <job>/<YYYY-MM-DD>-<uuid>.json, keyed by the UTC date plus a random UUID
// so concurrent runs of the same job never collide.
func (sn *Snapshotter) Snapshot(ctx context.Context, job string, rows []Row) error {
	if sn == nil || sn.Uploader == nil {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("archival: marshal snapshot for %s: %w", job, err)
	}

	key := fmt.Sprintf("%s/%s-%s.json", job, time.Now().UTC().Format("2006-01-02"), uuid.NewString())
	_, err = sn.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(sn.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("archival: upload snapshot %s: %w", key, err)
	}
	return nil
}
