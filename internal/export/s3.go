package export

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Mirror копирует изображения улик в объектное хранилище. Реализует
// интерфейс Uploader пакета recorder.
type S3Mirror struct {
	client *minio.Client
	bucket string
	device string
}

// NewS3Mirror connects to the object store and makes sure the bucket
// exists.
func NewS3Mirror(ctx context.Context, endpoint, accessKey, secretKey, bucket, device string) (*S3Mirror, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &S3Mirror{client: client, bucket: bucket, device: device}, nil
}

// Upload stores one JPEG under the device's folder.
func (m *S3Mirror) Upload(ctx context.Context, objectName string, jpeg []byte) error {
	_, err := m.client.PutObject(
		ctx,
		m.bucket,
		objectKey(m.device, objectName),
		bytes.NewReader(jpeg),
		int64(len(jpeg)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return fmt.Errorf("mirror %s to S3: %w", objectName, err)
	}
	return nil
}

// objectKey groups evidence by device so one bucket serves the fleet.
func objectKey(device, objectName string) string {
	return fmt.Sprintf("%s/%s", device, objectName)
}
