package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/config"
	"github.com/memohai/courier/internal/db"
	"github.com/memohai/courier/internal/paramstore"
	"github.com/memohai/courier/internal/threads"
)

// loadConfig reads the config file and resolves ssm: secret references.
func loadConfig(ctx context.Context, path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if !paramstore.NeedsResolution(cfg) {
		return cfg, nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return config.Config{}, err
	}
	client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return config.Config{}, err
	}
	if err := paramstore.ResolveConfig(ctx, client, &cfg); err != nil {
		return config.Config{}, fmt.Errorf("resolve secrets: %w", err)
	}
	return cfg, nil
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// accountsDB is an account store that also accepts imports.
type accountsDB interface {
	accounts.Store
	accounts.Writer
}

// storage holds the connection behind the configured storage.driver.
type storage struct {
	driver string
	pool   *pgxpool.Pool
	gorm   *gorm.DB
	dynamo *awsdynamodb.Client
	table  string
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	s := &storage{driver: driver}
	switch driver {
	case "postgres":
		pool, err := db.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		s.pool = pool
	case "sqlite", "mysql":
		conn, err := db.OpenGorm(driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		s.gorm = conn
	case "dynamodb":
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		endpoint := strings.TrimSpace(cfg.AWS.Endpoint)
		s.dynamo = awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
			}
		})
		s.table = cfg.AWS.DynamoTable
	case "memory":
	default:
		return nil, fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	return s, nil
}

func (s *storage) threadStore() (threads.Store, error) {
	switch {
	case s.pool != nil:
		return threads.NewPostgresStore(s.pool), nil
	case s.gorm != nil:
		return threads.NewGormStore(s.gorm)
	case s.dynamo != nil:
		return threads.NewDynamoStore(s.dynamo, s.table)
	default:
		return threads.NewMemoryStore(), nil
	}
}

func (s *storage) accountsStore() (accountsDB, error) {
	switch {
	case s.pool != nil:
		return accounts.NewPostgresStore(s.pool), nil
	case s.gorm != nil:
		return accounts.NewGormStore(s.gorm)
	default:
		return nil, fmt.Errorf("storage.driver %q cannot hold accounts", s.driver)
	}
}

// Ping verifies the connection. The memory driver has nothing to reach.
func (s *storage) Ping(ctx context.Context) error {
	switch {
	case s.pool != nil:
		return s.pool.Ping(ctx)
	case s.gorm != nil:
		sqlDB, err := s.gorm.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	case s.dynamo != nil:
		_, err := s.dynamo.DescribeTable(ctx, &awsdynamodb.DescribeTableInput{TableName: aws.String(s.table)})
		return err
	default:
		return nil
	}
}

func (s *storage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.gorm != nil {
		return db.CloseGorm(s.gorm)
	}
	return nil
}
