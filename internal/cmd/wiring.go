package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/pkg/archive/glacier"
	"github.com/3leaps/annflow/pkg/awsconf"
	"github.com/3leaps/annflow/pkg/jobs"
	"github.com/3leaps/annflow/pkg/jobs/dynamo"
	"github.com/3leaps/annflow/pkg/profile"
	"github.com/3leaps/annflow/pkg/profile/postgres"
	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/provider/file"
	"github.com/3leaps/annflow/pkg/provider/s3"
	"github.com/3leaps/annflow/pkg/queue"
	"github.com/3leaps/annflow/pkg/queue/sqs"
	"github.com/3leaps/annflow/pkg/worker"
	"github.com/3leaps/annflow/pkg/workspace"
)

// deps lazily builds the collaborators a command needs from appConfig.
type deps struct {
	cfg *config.Config

	awsCfg  *aws.Config
	sqs     *awssqs.Client
	sns     *sns.Client
	closers []io.Closer
}

func newDeps(cfg *config.Config) *deps {
	return &deps{cfg: cfg}
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			observability.CLILogger.Warn("close dependency", zap.Error(err))
		}
	}
}

func (d *deps) aws(ctx context.Context) (aws.Config, error) {
	if d.awsCfg != nil {
		return *d.awsCfg, nil
	}
	c, err := awsconf.Load(ctx, d.cfg.AWS.SDK())
	if err != nil {
		return aws.Config{}, err
	}
	d.awsCfg = &c
	return c, nil
}

// buckets opens hot storage on the configured backend.
func (d *deps) buckets(ctx context.Context) (*provider.Registry, error) {
	var open provider.OpenFunc
	switch d.cfg.Storage.Backend {
	case config.BackendFile:
		open = file.Opener(d.cfg.Storage.FileRoot)
	default:
		awsCfg, err := d.aws(ctx)
		if err != nil {
			return nil, err
		}
		open = s3.Opener(awsCfg, d.cfg.AWS.ForcePathStyle)
	}
	reg := provider.NewRegistry(open)
	d.closers = append(d.closers, reg)
	return reg, nil
}

func (d *deps) store(ctx context.Context) (jobs.Store, error) {
	awsCfg, err := d.aws(ctx)
	if err != nil {
		return nil, err
	}
	return dynamo.New(awsCfg, dynamo.Config{Table: d.cfg.Table.Name, UserIndex: d.cfg.Table.UserIndex})
}

func (d *deps) vault(ctx context.Context) (*glacier.Vault, error) {
	awsCfg, err := d.aws(ctx)
	if err != nil {
		return nil, err
	}
	return glacier.New(awsCfg, glacier.Config{Vault: d.cfg.Archive.Vault, AccountID: d.cfg.Archive.AccountID})
}

// profiles uses Postgres when a DSN is configured and the static role map
// otherwise.
func (d *deps) profiles(ctx context.Context) (profile.Service, error) {
	if d.cfg.Profile.DSN == "" {
		roles := make(map[string]profile.Role, len(d.cfg.Profile.Roles))
		for id, r := range d.cfg.Profile.Roles {
			role, err := profile.ParseRole(r)
			if err != nil {
				return nil, err
			}
			roles[id] = role
		}
		return profile.NewStatic(roles), nil
	}
	svc, err := postgres.Open(ctx, postgres.Config{DSN: d.cfg.Profile.DSN, Table: d.cfg.Profile.Table})
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, svc)
	return svc, nil
}

func (d *deps) sqsClient(ctx context.Context) (*awssqs.Client, error) {
	if d.sqs == nil {
		awsCfg, err := d.aws(ctx)
		if err != nil {
			return nil, err
		}
		d.sqs = awssqs.NewFromConfig(awsCfg)
	}
	return d.sqs, nil
}

func (d *deps) consumer(ctx context.Context, queueURL string) (queue.Consumer, error) {
	client, err := d.sqsClient(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewConsumer(client, queueURL)
}

// publisher publishes to topicARN, or straight to queueURL when no topic is
// configured.
func (d *deps) publisher(ctx context.Context, topicARN, queueURL string) (queue.Publisher, error) {
	if topicARN != "" {
		if d.sns == nil {
			awsCfg, err := d.aws(ctx)
			if err != nil {
				return nil, err
			}
			d.sns = sns.NewFromConfig(awsCfg)
		}
		return sqs.NewTopicPublisher(d.sns, topicARN, d.cfg.Topics.MessageGroupID)
	}
	if queueURL == "" {
		return nil, fmt.Errorf("neither topic nor queue configured")
	}
	client, err := d.sqsClient(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewQueuePublisher(client, queueURL, d.cfg.Topics.MessageGroupID)
}

func (d *deps) workspace() (*workspace.Manager, error) {
	root, err := filepath.Abs(d.cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return workspace.New(root), nil
}

// limiter paces retrieval initiations; nil when unlimited.
func limiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func pollConfig(name string, w config.Worker) worker.PollConfig {
	return worker.PollConfig{
		Name:              name,
		BatchSize:         w.BatchSize,
		WaitTime:          w.WaitTime,
		VisibilityTimeout: w.VisibilityTimeout,
		Interval:          w.Interval,
		AckOnError:        w.AckOnError,
	}
}
