package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3Connector stores each dataset as a single JSON document in a bucket,
// one object per dataset id
type S3Connector struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Connector builds a connector against the given bucket using the
// ambient AWS credential chain
func NewS3Connector(ctx context.Context, region, bucket, prefix string) (*S3Connector, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}
	return &S3Connector{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// NewS3ConnectorWithClient builds a connector over an existing client, for tests
func NewS3ConnectorWithClient(client *s3.Client, bucket, prefix string) *S3Connector {
	return &S3Connector{client: client, bucket: bucket, prefix: prefix}
}

func (c *S3Connector) key(datasetID string) string {
	return fmt.Sprintf("%s%s.json", c.prefix, datasetID)
}

// WriteParameters uploads the values as one JSON object
func (c *S3Connector) WriteParameters(ctx context.Context, datasetID string, values map[string]interface{}) error {
	body, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "failed to encode dataset values")
	}
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(c.key(datasetID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload dataset %s", datasetID)
	}
	return nil
}

// ReadParameters downloads and decodes the dataset object
func (c *S3Connector) ReadParameters(ctx context.Context, datasetID string) (map[string]interface{}, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(datasetID)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download dataset %s", datasetID)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset %s", datasetID)
	}
	var values map[string]interface{}
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, errors.Wrapf(err, "failed to decode dataset %s", datasetID)
	}
	return values, nil
}
