package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/vnkhanh/submission-ingest-backend/config"
	"github.com/vnkhanh/submission-ingest-backend/pkg/apperror"
)

// S3Gateway talks to any S3 compatible store (AWS, R2, MinIO).
type S3Gateway struct {
	client        s3iface.S3API
	bucket        string
	publicBaseURL string
}

func NewS3Gateway(cfg config.S3Config) (*S3Gateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 driver")
	}
	s3Config := &aws.Config{
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.AccessKey != "" {
		s3Config.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" && cfg.Endpoint != "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return NewS3GatewayWithClient(s3.New(sess), cfg.Bucket, base), nil
}

func NewS3GatewayWithClient(client s3iface.S3API, bucket, publicBaseURL string) *S3Gateway {
	return &S3Gateway{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (g *S3Gateway) Name() string { return "s3" }

func (g *S3Gateway) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	_, err := g.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return Object{}, &apperror.StorageError{Op: "put", Key: key, Err: err}
	}
	obj := Object{Key: key}
	if g.publicBaseURL != "" {
		obj.URL = g.publicBaseURL + "/" + key
	}
	return obj, nil
}

func (g *S3Gateway) Delete(ctx context.Context, key string) error {
	_, err := g.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil
		}
		return &apperror.StorageError{Op: "delete", Key: key, Err: err}
	}
	return nil
}
