// Package dynamo implements jobs.Store on a DynamoDB table keyed by job_id
// with a global secondary index on user_id.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/annflow/pkg/jobs"
)

// DefaultUserIndex is the secondary index name used when none is configured.
const DefaultUserIndex = "user_id_index"

// API is the subset of the DynamoDB client used by Store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type Config struct {
	Table     string
	UserIndex string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("dynamo config: table is required")
	}
	return nil
}

// Store implements jobs.Store.
type Store struct {
	api       API
	table     string
	userIndex string
}

var _ jobs.Store = (*Store)(nil)

// New creates a Store from a shared AWS config.
func New(awsCfg aws.Config, cfg Config) (*Store, error) {
	return NewFromAPI(dynamodb.NewFromConfig(awsCfg), cfg)
}

// NewFromAPI creates a Store over an existing client.
func NewFromAPI(api API, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	idx := cfg.UserIndex
	if idx == "" {
		idx = DefaultUserIndex
	}
	return &Store{api: api, table: cfg.Table, userIndex: idx}, nil
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"job_id": &types.AttributeValueMemberS{Value: jobID},
	}
}

func (s *Store) Get(ctx context.Context, jobID string) (*jobs.Record, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            jobKey(jobID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.wrapError("GetItem", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	var rec jobs.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *jobs.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", rec.JobID, err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return s.wrapError("PutItem", rec.JobID, err)
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, jobID string, from, to jobs.Status, changes jobs.Changes) error {
	if err := jobs.CheckTransition(from, to); err != nil {
		return err
	}
	upd := setChanges(expression.Set(expression.Name("job_status"), expression.Value(string(to))), changes)
	cond := expression.Name("job_status").Equal(expression.Value(string(from)))

	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build transition expression: %w", err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       jobKey(jobID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%w: %s expected %s", jobs.ErrConditionFailed, jobID, from)
		}
		return s.wrapError("UpdateItem", jobID, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, jobID string, changes jobs.Changes) error {
	if changes.Empty() {
		return nil
	}
	var upd expression.UpdateBuilder
	upd = setChanges(upd, changes)
	cond := expression.AttributeExists(expression.Name("job_id"))

	expr, err := expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       jobKey(jobID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
		}
		return s.wrapError("UpdateItem", jobID, err)
	}
	return nil
}

func (s *Store) QueryByUser(ctx context.Context, userID string) ([]jobs.Record, error) {
	keyCond := expression.Key("user_id").Equal(expression.Value(userID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(s.userIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var out []jobs.Record
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.wrapError("Query", userID, err)
		}
		var recs []jobs.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("decode jobs for user %s: %w", userID, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func setChanges(upd expression.UpdateBuilder, c jobs.Changes) expression.UpdateBuilder {
	if c.ResultsBucket != nil {
		upd = upd.Set(expression.Name("s3_results_bucket"), expression.Value(*c.ResultsBucket))
	}
	if c.ResultKey != nil {
		upd = upd.Set(expression.Name("s3_key_result_file"), expression.Value(*c.ResultKey))
	}
	if c.LogKey != nil {
		upd = upd.Set(expression.Name("s3_key_log_file"), expression.Value(*c.LogKey))
	}
	if c.CompleteTime != nil {
		upd = upd.Set(expression.Name("complete_time"), expression.Value(*c.CompleteTime))
	}
	if c.ArchiveID != nil {
		upd = upd.Set(expression.Name("results_file_archive_id"), expression.Value(*c.ArchiveID))
	}
	if c.RestoreMessage != nil {
		upd = upd.Set(expression.Name("restore_message"), expression.Value(*c.RestoreMessage))
	}
	return upd
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

// Sentinel errors for table-level failures.
var (
	ErrTableNotFound = errors.New("table not found")
	ErrThrottled     = errors.New("request throttled")
	ErrAccessDenied  = errors.New("access denied")
)

// StoreError wraps a failed table call.
type StoreError struct {
	Op    string
	Table string
	ID    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dynamodb %s %s[%s]: %v", e.Op, e.Table, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (s *Store) wrapError(op, id string, err error) error {
	wrapped := &StoreError{Op: op, Table: s.table, ID: id, Err: err}

	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		wrapped.Err = ErrTableNotFound
		return wrapped
	}
	var pte *types.ProvisionedThroughputExceededException
	if errors.As(err, &pte) {
		wrapped.Err = ErrThrottled
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			wrapped.Err = ErrTableNotFound
		case "ThrottlingException", "RequestLimitExceeded", "ProvisionedThroughputExceededException":
			wrapped.Err = ErrThrottled
		case "AccessDeniedException", "UnrecognizedClientException":
			wrapped.Err = ErrAccessDenied
		}
	}
	return wrapped
}
