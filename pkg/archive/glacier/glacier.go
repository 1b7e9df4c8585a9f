// Package glacier implements archive.Archive on an S3 Glacier vault.
package glacier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsglacier "github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/annflow/pkg/archive"
)

// CurrentAccount tells Glacier to use the caller's account.
const CurrentAccount = "-"

const retrievalJobType = "archive-retrieval"

// API is the subset of the Glacier client used by Vault.
type API interface {
	UploadArchive(ctx context.Context, in *awsglacier.UploadArchiveInput, optFns ...func(*awsglacier.Options)) (*awsglacier.UploadArchiveOutput, error)
	InitiateJob(ctx context.Context, in *awsglacier.InitiateJobInput, optFns ...func(*awsglacier.Options)) (*awsglacier.InitiateJobOutput, error)
	DescribeJob(ctx context.Context, in *awsglacier.DescribeJobInput, optFns ...func(*awsglacier.Options)) (*awsglacier.DescribeJobOutput, error)
	GetJobOutput(ctx context.Context, in *awsglacier.GetJobOutputInput, optFns ...func(*awsglacier.Options)) (*awsglacier.GetJobOutputOutput, error)
}

type Config struct {
	Vault string

	// AccountID defaults to CurrentAccount.
	AccountID string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Vault) == "" {
		return fmt.Errorf("glacier config: vault is required")
	}
	return nil
}

// Vault implements archive.Archive.
type Vault struct {
	api     API
	vault   string
	account string
}

var _ archive.Archive = (*Vault)(nil)

func New(awsCfg aws.Config, cfg Config) (*Vault, error) {
	return NewFromAPI(awsglacier.NewFromConfig(awsCfg), cfg)
}

func NewFromAPI(api API, cfg Config) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	account := cfg.AccountID
	if account == "" {
		account = CurrentAccount
	}
	return &Vault{api: api, vault: cfg.Vault, account: account}, nil
}

func (v *Vault) Archive(ctx context.Context, body io.ReadSeeker) (string, error) {
	out, err := v.api.UploadArchive(ctx, &awsglacier.UploadArchiveInput{
		AccountId: aws.String(v.account),
		VaultName: aws.String(v.vault),
		Body:      body,
	})
	if err != nil {
		return "", wrapError("UploadArchive", "", err)
	}
	id := aws.ToString(out.ArchiveId)
	if id == "" {
		return "", &archive.ArchiveError{Op: "UploadArchive", Err: errors.New("empty archive id")}
	}
	return id, nil
}

func (v *Vault) InitiateRetrieval(ctx context.Context, handle string, tier archive.Tier) (string, error) {
	out, err := v.api.InitiateJob(ctx, &awsglacier.InitiateJobInput{
		AccountId: aws.String(v.account),
		VaultName: aws.String(v.vault),
		JobParameters: &types.JobParameters{
			Type:      aws.String(retrievalJobType),
			ArchiveId: aws.String(handle),
			Tier:      aws.String(string(tier)),
		},
	})
	if err != nil {
		return "", wrapError("InitiateJob", handle, err)
	}
	return aws.ToString(out.JobId), nil
}

func (v *Vault) Describe(ctx context.Context, retrievalID string) (archive.RetrievalStatus, error) {
	out, err := v.api.DescribeJob(ctx, &awsglacier.DescribeJobInput{
		AccountId: aws.String(v.account),
		VaultName: aws.String(v.vault),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return "", wrapError("DescribeJob", retrievalID, err)
	}
	switch out.StatusCode {
	case types.StatusCodeSucceeded:
		return archive.StatusSucceeded, nil
	case types.StatusCodeFailed:
		return archive.StatusFailed, nil
	default:
		return archive.StatusInProgress, nil
	}
}

func (v *Vault) Fetch(ctx context.Context, retrievalID string) (io.ReadCloser, error) {
	out, err := v.api.GetJobOutput(ctx, &awsglacier.GetJobOutputInput{
		AccountId: aws.String(v.account),
		VaultName: aws.String(v.vault),
		JobId:     aws.String(retrievalID),
	})
	if err != nil {
		return nil, wrapError("GetJobOutput", retrievalID, err)
	}
	return out.Body, nil
}

func wrapError(op, id string, err error) error {
	wrapped := &archive.ArchiveError{Op: op, ID: id, Err: err}

	var ice *types.InsufficientCapacityException
	if errors.As(err, &ice) {
		wrapped.Err = archive.ErrCapacityExceeded
		return wrapped
	}
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		wrapped.Err = archive.ErrNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InsufficientCapacityException":
			wrapped.Err = archive.ErrCapacityExceeded
		case "ResourceNotFoundException":
			wrapped.Err = archive.ErrNotFound
		}
	}
	return wrapped
}
