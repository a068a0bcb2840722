// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package s3store manages the lifecycle of the S3 bucket backing the
// benchmarked mount.
package s3store

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sync/errgroup"
)

// A Store provides bucket-level operations against S3. Connect must
// be called before any other method.
type Store struct {
	// Region is the region buckets are created in.
	Region string
	// AccessKey and SecretKey are the AWS credentials to use.
	AccessKey, SecretKey string

	api s3iface.S3API
}

// Connect establishes the S3 session.
func (s *Store) Connect() error {
	if s.api != nil {
		return nil
	}
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(s.Region),
		Credentials: credentials.NewStaticCredentials(s.AccessKey, s.SecretKey, ""),
	})
	if err != nil {
		return errors.E("s3store: new session", err)
	}
	s.api = s3.New(sess)
	return nil
}

// BucketExists tells whether the named bucket exists.
func (s *Store) BucketExists(ctx context.Context, name string) (bool, error) {
	_, err := s.api.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		return true, nil
	}
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, "NotFound":
			return false, nil
		}
	}
	return false, errors.E("s3store: head-bucket", name, err)
}

// CreateBucket creates the named bucket and waits for it to exist.
func (s *Store) CreateBucket(ctx context.Context, name string) error {
	if _, err := s.api.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		return errors.E("s3store: create-bucket", name, err)
	}
	if err := s.api.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err != nil {
		return errors.E("s3store: wait-until-bucket-exists", name, err)
	}
	return nil
}

// DeleteBucket deletes the named bucket. The bucket must be empty;
// use EraseBucket first when its contents are unknown.
func (s *Store) DeleteBucket(ctx context.Context, name string) error {
	if _, err := s.api.DeleteBucketWithContext(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return errors.E("s3store: delete-bucket", name, err)
	}
	return nil
}

// EraseBucket deletes the named bucket's contents but not the bucket
// itself. Object deletions are issued concurrently.
func (s *Store) EraseBucket(ctx context.Context, name string) error {
	g, ctx := errgroup.WithContext(ctx)
	var count int
	listErr := s.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(name),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			count++
			g.Go(func() error {
				_, err := s.api.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(name),
					Key:    aws.String(key),
				})
				return err
			})
		}
		return true
	})
	err := g.Wait()
	if listErr != nil {
		return errors.E("s3store: list-objects", name, listErr)
	}
	if err != nil {
		return errors.E("s3store: delete-object", name, err)
	}
	log.Debug.Printf("s3store: erased %d objects from %s", count, name)
	return nil
}
