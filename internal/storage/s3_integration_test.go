//go:build integration

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	store := setUpS3Store(t)

	key := "abcd1234/chat_history/log.jsonl"
	body := "{\"mes\":\"one\"}\n{\"mes\":\"two\"}\n"

	// Missing object
	_, err := store.GetObjectStream(ctx, key)
	require.ErrorIs(t, err, ErrObjectNotExist)

	require.NoError(t, store.PutObject(ctx, key, []byte(body), "application/jsonl"))

	rc, err := store.GetObjectStream(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, body, string(data))

	// Presigned URL is readable without credentials
	u, err := store.PresignGet(ctx, key, time.Minute)
	require.NoError(t, err)
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, body, string(data))

	require.NoError(t, store.DeleteObject(ctx, key))
	require.ErrorIs(t, store.DeleteObject(ctx, key), ErrObjectNotExist)
}

/* Test Helpers */

func setUpS3Store(t *testing.T) *S3Store {
	accessKey := "cardvault"      // at least 3 characters
	secretKey := "cardvault-test" // at least 8 characters
	bucketName := "cards"

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "minio/minio:RELEASE.2023-02-27T18-10-45Z",
		Env: map[string]string{
			"MINIO_ACCESS_KEY": accessKey,
			"MINIO_SECRET_KEY": secretKey,
		},
		Cmd:          []string{"server", "/data"},
		ExposedPorts: []string{"9000"},
		WaitingFor:   wait.ForLog("MinIO Object Storage Server").WithStartupTimeout(30 * time.Second),
	}
	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := minioContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	minioPort, err := nat.NewPort("", "9000")
	require.NoError(t, err)
	port, err := minioContainer.MappedPort(ctx, minioPort)
	require.NoError(t, err)
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	admin, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	require.NoError(t, err)
	if err := admin.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		exists, errBucketExists := admin.BucketExists(ctx, bucketName)
		require.True(t, errBucketExists == nil && exists, "create bucket: %v", err)
	}

	store, err := NewS3Store(S3Options{
		Endpoint:    endpoint,
		Bucket:      bucketName,
		Credentials: Credentials{AccessKey: accessKey, SecretKey: secretKey},
	})
	require.NoError(t, err)
	return store
}
