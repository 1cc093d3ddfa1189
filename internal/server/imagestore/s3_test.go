package imagestore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	put     *s3.PutObjectInput
	body    []byte
	deleted *s3.DeleteObjectInput
	err     error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.put = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = in
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresigner struct {
	in      *s3.GetObjectInput
	expires time.Duration
	err     error
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	var o s3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	f.in, f.expires = in, o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + aws.ToString(in.Key) + "?sig=1", Method: http.MethodGet}, nil
}

func newFakeS3(objects *fakeObjects, presigner *fakePresigner) *S3Store {
	return &S3Store{
		objects:   objects,
		presigner: presigner,
		bucket:    "photos",
		expiry:    time.Minute,
		now:       func() time.Time { return time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC) },
	}
}

func TestS3Store_Save(t *testing.T) {
	objects := &fakeObjects{}
	s := newFakeS3(objects, &fakePresigner{})

	key, err := s.Save(context.Background(), 9, []byte("jpeg"))
	require.NoError(t, err)
	assert.Regexp(t, `^users/9/2024/05/06/.+\.jpg$`, key)
	assert.Equal(t, "photos", aws.ToString(objects.put.Bucket))
	assert.Equal(t, key, aws.ToString(objects.put.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(objects.put.ContentType))
	assert.Equal(t, []byte("jpeg"), objects.body)
}

func TestS3Store_DeleteAndURL(t *testing.T) {
	objects := &fakeObjects{}
	presigner := &fakePresigner{}
	s := newFakeS3(objects, presigner)

	require.NoError(t, s.Delete(context.Background(), "users/1/x.jpg"))
	assert.Equal(t, "users/1/x.jpg", aws.ToString(objects.deleted.Key))

	url, err := s.URL(context.Background(), "users/1/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://s3.local/users/1/x.jpg?sig=1", url)
	assert.Equal(t, time.Minute, presigner.expires)
	assert.Equal(t, "photos", aws.ToString(presigner.in.Bucket))
}

func TestS3Store_Errors(t *testing.T) {
	boom := errors.New("boom")
	s := newFakeS3(&fakeObjects{err: boom}, &fakePresigner{err: boom})

	_, err := s.Save(context.Background(), 1, []byte("x"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Delete(context.Background(), "k"), boom)
	_, err = s.URL(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
}

func TestNewS3Store_AppliesOptions(t *testing.T) {
	origLoad, origNew := loadDefaultAWSConfig, newS3ClientFromConfig
	t.Cleanup(func() { loadDefaultAWSConfig, newS3ClientFromConfig = origLoad, origNew })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				t.Errorf("load options fn error: %v", err)
			}
		}
		if lo.Region != "eu-north-1" {
			t.Errorf("region not applied: %q", lo.Region)
		}
		if lo.Credentials == nil {
			t.Errorf("credentials not applied")
		}
		return aws.Config{}, nil
	}

	var endpoint string
	var pathStyle bool
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		var opts s3.Options
		for _, fn := range optFns {
			fn(&opts)
		}
		endpoint = aws.ToString(opts.BaseEndpoint)
		pathStyle = opts.UsePathStyle
		return &s3.Client{}
	}

	s, err := NewS3Store(context.Background(), S3Options{
		User: "u", Password: "p", Bucket: "photos", Region: "eu-north-1", BaseEndpoint: "http://minio:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000", endpoint)
	assert.True(t, pathStyle)
	assert.Equal(t, 15*time.Minute, s.expiry)
}

func TestNewS3Store_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })
	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := NewS3Store(context.Background(), S3Options{})
	assert.ErrorContains(t, err, "aws config: no config")
}
