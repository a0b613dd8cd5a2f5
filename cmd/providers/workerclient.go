package providers

import (
	"net/http"

	"go.od2.network/hive/pkg/config"
	"go.od2.network/hive/pkg/workerclient"
)

// NewWorkerClient builds the client shared by the dispatcher and the
// health aggregator, one HTTP connection pool for the whole fleet.
func NewWorkerClient(cfg *config.Config) *workerclient.Client {
	return workerclient.New(http.DefaultClient, cfg.WorkerBaseURLs)
}
