// Package s3store provides a remote.Store on S3 and S3-compatible object storage.
//
// Every object lives at <prefix>o/<id>; encrypted name, packed metadata and the
// parent identifier travel as user metadata. Children are indexed by empty
// marker objects at <prefix>c/<parent>/<id>, so a child listing is a single
// paginated ListObjectsV2 whose continuation token is the page token.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/cloudsync/cloudsync/internal/model"
	"github.com/cloudsync/cloudsync/internal/remote"
)

// RootID is the identifier of the true root container.
const RootID = "root"

const (
	metaName   = "name"
	metaData   = "meta"
	metaParent = "parent"
)

// Config holds S3 store settings.
type Config struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Prefix         string `mapstructure:"prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	PageSize       int    `mapstructure:"page_size"`
}

// API is the subset of the S3 client the store calls. *s3.Client implements it.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store implements remote.Store on an S3 bucket.
type Store struct {
	client   API
	bucket   string
	prefix   string
	pageSize int32
}

// New creates a store using an existing client.
func New(client API, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	pageSize := int32(cfg.PageSize)
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   prefix,
		pageSize: pageSize,
	}
}

// NewFromConfig creates a store, loading AWS configuration from the environment
// unless static credentials are given.
func NewFromConfig(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, &model.ConfigError{Msg: "s3 store requires a bucket"}
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Factory builds a Store from registry settings.
func Factory(ctx context.Context, settings map[string]interface{}) (remote.Store, error) {
	var cfg Config
	if err := mapstructure.WeakDecode(settings, &cfg); err != nil {
		return nil, &model.ConfigError{Msg: "invalid s3 store settings", Err: err}
	}
	return NewFromConfig(ctx, cfg)
}

func (s *Store) objectKey(id string) string { return s.prefix + "o/" + id }

func (s *Store) childPrefix(parentID string) string { return s.prefix + "c/" + parentID + "/" }

func (s *Store) Type() string { return "s3" }

func (s *Store) Root(ctx context.Context) (string, error) {
	return RootID, nil
}

func (s *Store) List(ctx context.Context, parentID, pageToken string) (*remote.Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.childPrefix(parentID)),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(s.pageSize),
	}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3 list objects: %w", err)
	}

	page := &remote.Page{}
	prefix := s.childPrefix(parentID)
	for _, marker := range out.Contents {
		id := strings.TrimPrefix(aws.ToString(marker.Key), prefix)
		obj, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// marker outlived its object
				continue
			}
			return nil, err
		}
		page.Objects = append(page.Objects, obj)
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, id string) (*remote.Object, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("s3 head object: %w", err)
	}
	return &remote.Object{
		ID:       id,
		ParentID: out.Metadata[metaParent],
		Name:     out.Metadata[metaName],
		Metadata: out.Metadata[metaData],
		Size:     aws.ToInt64(out.ContentLength),
	}, nil
}

func (s *Store) Create(ctx context.Context, parentID, name, metadata string, content []byte) (string, error) {
	id := uuid.New().String()
	if content == nil {
		content = []byte{}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
		Body:   bytes.NewReader(content),
		Metadata: map[string]string{
			metaName:   name,
			metaData:   metadata,
			metaParent: parentID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.childPrefix(parentID) + id),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put child marker: %w", err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id, metadata string, content []byte) error {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	meta := map[string]string{
		metaName:   obj.Name,
		metaData:   metadata,
		metaParent: obj.ParentID,
	}

	if content != nil {
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(s.objectKey(id)),
			Body:     bytes.NewReader(content),
			Metadata: meta,
		})
		if err != nil {
			return fmt.Errorf("s3 put object: %w", err)
		}
		return nil
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.objectKey(id)),
		CopySource:        aws.String(s.bucket + "/" + s.objectKey(id)),
		Metadata:          meta,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("s3 copy object: %w", err)
	}
	return nil
}

// Remove deletes the object, its child marker and every descendant. S3 has no trash.
func (s *Store) Remove(ctx context.Context, id string) error {
	obj, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	keys, err := s.subtreeKeys(ctx, id)
	if err != nil {
		return err
	}
	keys = append(keys, s.objectKey(id), s.childPrefix(obj.ParentID)+id)
	return s.deleteKeys(ctx, keys)
}

// subtreeKeys returns the object and marker keys below id, descendants before their parents.
func (s *Store) subtreeKeys(ctx context.Context, id string) ([]string, error) {
	children, err := s.childIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, child := range children {
		sub, err := s.subtreeKeys(ctx, child)
		if err != nil {
			return nil, err
		}
		keys = append(keys, sub...)
		keys = append(keys, s.objectKey(child), s.childPrefix(id)+child)
	}
	return keys, nil
}

func (s *Store) childIDs(ctx context.Context, parentID string) ([]string, error) {
	prefix := s.childPrefix(parentID)
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(s.pageSize),
	}
	var ids []string
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, marker := range out.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(marker.Key), prefix))
		}
		if !aws.ToBool(out.IsTruncated) {
			return ids, nil
		}
		input.ContinuationToken = out.NextContinuationToken
	}
}

// deleteBatch is the DeleteObjects key limit.
const deleteBatch = 1000

func (s *Store) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteBatch)
		objects := make([]types.ObjectIdentifier, n)
		for i, key := range keys[:n] {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3 delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("s3 delete '%s': %s", aws.ToString(e.Key), aws.ToString(e.Message))
		}
		keys = keys[n:]
	}
	return nil
}

func (s *Store) Download(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("object '%s': %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}
	return data, nil
}

func isNotFoundError(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return false
}
