// Package cloudtest provides helpers for integration tests against a local
// moto server standing in for S3, SQS, SNS and DynamoDB.
//
// Tests using this package are tagged with //go:build cloudintegration:
//
//	func TestStore(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    table := cloudtest.CreateJobTable(t, ctx)
//	    store, _ := dynamo.New(cloudtest.AWSConfigT(t), dynamo.Config{Table: table})
//	    // ...
//	}
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/3leaps/annflow/pkg/awsconf"
)

const (
	// DefaultEndpoint is the default moto server endpoint.
	// Port 5555 avoids conflict with macOS AirTunes on 5000.
	DefaultEndpoint = "http://localhost:5555"

	DefaultRegion = "us-east-1"

	// moto accepts any credentials.
	TestAccessKeyID     = "testing"
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is configurable via MOTO_ENDPOINT.
	Endpoint = getEnvOrDefault("MOTO_ENDPOINT", DefaultEndpoint)

	// Region is configurable via MOTO_REGION.
	Region = getEnvOrDefault("MOTO_REGION", DefaultRegion)

	awsCfg     aws.Config
	awsCfgOnce sync.Once
	awsCfgErr  error
)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Available checks if the moto server is reachable.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode == http.StatusOK
}

// SkipIfUnavailable skips the test if moto server is not available.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("moto server not available at %s (start with: make moto-start)", Endpoint)
	}
}

// AWSConfig returns the shared SDK config pointed at moto.
func AWSConfig() (aws.Config, error) {
	awsCfgOnce.Do(func() {
		awsCfg, awsCfgErr = awsconf.Load(context.Background(), awsconf.Config{
			Region:          Region,
			Endpoint:        Endpoint,
			AccessKeyID:     TestAccessKeyID,
			SecretAccessKey: TestSecretAccessKey,
		})
	})
	return awsCfg, awsCfgErr
}

// AWSConfigT returns the shared SDK config, failing the test on error.
func AWSConfigT(t *testing.T) aws.Config {
	t.Helper()
	cfg, err := AWSConfig()
	if err != nil {
		t.Fatalf("failed to load aws config: %v", err)
	}
	return cfg
}

// uniqueName derives a resource name from the test name.
func uniqueName(t *testing.T, max int) string {
	name := strings.ToLower(t.Name())
	name = strings.NewReplacer("/", "-", "_", "-").Replace(name)
	if len(name) > max {
		name = name[:max]
	}
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)
}

func s3Client(t *testing.T) *s3.Client {
	return s3.NewFromConfig(AWSConfigT(t), func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// CreateBucket creates a uniquely named bucket and registers cleanup.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	c := s3Client(t)
	name := uniqueName(t, 50)
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("failed to create bucket %s: %v", name, err)
	}
	t.Cleanup(func() {
		deleteBucket(t, context.Background(), c, name)
	})
	return name
}

func deleteBucket(t *testing.T, ctx context.Context, c *s3.Client, bucket string) {
	paginator := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			t.Logf("warning: failed to list objects in bucket %s: %v", bucket, err)
			return
		}
		for _, obj := range page.Contents {
			if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
				t.Logf("warning: failed to delete object %s: %v", aws.ToString(obj.Key), err)
			}
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: failed to delete bucket %s: %v", bucket, err)
	}
}

// PutObject uploads an object to the bucket.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()

	_, err := s3Client(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(string(content)),
	})
	if err != nil {
		t.Fatalf("failed to put object %s/%s: %v", bucket, key, err)
	}
}

// CreateQueue creates a queue and returns its URL. fifo adds the ".fifo"
// suffix and attribute.
func CreateQueue(t *testing.T, ctx context.Context, fifo bool) string {
	t.Helper()

	c := sqs.NewFromConfig(AWSConfigT(t))
	name := uniqueName(t, 60)
	in := &sqs.CreateQueueInput{QueueName: aws.String(name)}
	if fifo {
		in.QueueName = aws.String(name + ".fifo")
		in.Attributes = map[string]string{"FifoQueue": "true"}
	}
	out, err := c.CreateQueue(ctx, in)
	if err != nil {
		t.Fatalf("failed to create queue %s: %v", aws.ToString(in.QueueName), err)
	}
	url := aws.ToString(out.QueueUrl)
	t.Cleanup(func() {
		if _, err := c.DeleteQueue(context.Background(), &sqs.DeleteQueueInput{QueueUrl: aws.String(url)}); err != nil {
			t.Logf("warning: failed to delete queue %s: %v", url, err)
		}
	})
	return url
}

// CreateJobTable creates a job table keyed by job_id with a user_id index.
func CreateJobTable(t *testing.T, ctx context.Context, userIndex string) string {
	t.Helper()

	c := dynamodb.NewFromConfig(AWSConfigT(t))
	name := uniqueName(t, 200)
	_, err := c.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: dbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dbtypes.AttributeDefinition{
			{AttributeName: aws.String("job_id"), AttributeType: dbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("user_id"), AttributeType: dbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dbtypes.KeySchemaElement{
			{AttributeName: aws.String("job_id"), KeyType: dbtypes.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []dbtypes.GlobalSecondaryIndex{{
			IndexName: aws.String(userIndex),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String("user_id"), KeyType: dbtypes.KeyTypeHash},
			},
			Projection: &dbtypes.Projection{ProjectionType: dbtypes.ProjectionTypeAll},
		}},
	})
	if err != nil {
		t.Fatalf("failed to create table %s: %v", name, err)
	}
	t.Cleanup(func() {
		if _, err := c.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
			t.Logf("warning: failed to delete table %s: %v", name, err)
		}
	})
	return name
}
