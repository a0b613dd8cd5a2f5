package providers

import "go.od2.network/hive/pkg/config"

// NewConfig resolves the service's configuration from the environment.
func NewConfig() (*config.Config, error) {
	return config.Load()
}
