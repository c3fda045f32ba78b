package main

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/lightmesh/pkg/registry"
)

// dialRegistry connects to etcd and checks the cluster answers.
func dialRegistry(ctx context.Context, endpoints []string, logger *zap.Logger) (*clientv3.Client, error) {
	logger.Info("creating etcd client", zap.Strings("endpoints", endpoints))
	cli, err := registry.NewClient(endpoints, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Get(pctx, registry.NodesPrefix, clientv3.WithPrefix(), clientv3.WithCountOnly()); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd probe: %w", err)
	}
	return cli, nil
}
