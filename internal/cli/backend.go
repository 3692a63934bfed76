package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/socialgraph/internal/config"
	"github.com/jacentio/socialgraph/person"
	"github.com/jacentio/socialgraph/store"
	"github.com/jacentio/socialgraph/store/badgerstore"
)

// personNamespace is the Badger namespace holding person records.
const personNamespace = "persons"

// backend is an opened person store and whatever must be closed with it.
type backend struct {
	store   store.Store[person.Record]
	closers []func() error
}

func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendDynamoDB:
		s, err := NewDynamoStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("using dynamodb store",
			"region", cfg.DynamoDB.Region,
			"table", cfg.DynamoDB.Table,
		)
		return &backend{store: s}, nil

	case config.BackendBadger:
		bc := cfg.BadgerStoreConfig()
		bc.Logger = logger.With("component", "badger")
		db, err := badgerstore.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		s, err := badgerstore.New[person.Record](db, personNamespace)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("using badger store",
			"path", bc.Path,
			"inMemory", bc.InMemory,
		)
		return &backend{store: s, closers: []func() error{db.Close, s.Close}}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// NewDynamoStore returns the DynamoDB person store described by cfg.
func NewDynamoStore(ctx context.Context, cfg *config.Config) (*store.DynamoStore[person.Record], error) {
	client, err := newDynamoClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store.New[person.Record](client, cfg.StoreConfig()), nil
}

func newDynamoClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	}), nil
}
