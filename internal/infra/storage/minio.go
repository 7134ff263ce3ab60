package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
)

const flowPrefix = "flows"

// Store publishes flow graphs as JSON objects. It implements
// analysis.FlowExporter.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

var _ analysis.FlowExporter = (*Store)(nil)

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// Export uploads g under flows/<id>.json and returns the object URL.
func (s *Store) Export(ctx context.Context, id analysis.ID, g analysis.FlowGraph) (string, error) {
	body, err := EncodeFlow(g)
	if err != nil {
		return "", err
	}
	key := FlowKey(id)
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("minio: put %s: %w", key, err)
	}

	// URL publik (jika bucket public), kalau private harus generate presigned URL
	return ObjectURL(s.client.EndpointURL().Scheme, s.client.EndpointURL().Host, s.bucketName, key), nil
}

// Ping checks the bucket is reachable; used by the health checker.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("minio: bucket %s missing", s.bucketName)
	}
	return nil
}

// FlowKey is the object key of the flow graph of id.
func FlowKey(id analysis.ID) string {
	return path.Join(flowPrefix, string(id)+".json")
}

// EncodeFlow is the object body; the same graph always encodes to the same bytes.
func EncodeFlow(g analysis.FlowGraph) ([]byte, error) {
	return json.Marshal(g)
}

func ObjectURL(scheme, host, bucket, key string) string {
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, host, bucket, key)
}
