package startup

import (
	"time"

	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/storage"
	"github.com/teamchat/internal/storage/memory"
)

// OpenStore выбирает бэкенд живого хранилища по конфигу. memory — только внутри одного процесса.
func OpenStore(cfg *config.Config, logPrefix string) storage.LiveStore {
	if cfg.StoreBackend == config.StoreMemory {
		logger.Infof("%slive store: in-memory", logPrefix)
		return memory.New()
	}
	client := ConnectRedisWithRetry(cfg.RedisURL, 60*time.Second, logPrefix)
	logger.Infof("%slive store: redis connected", logPrefix)
	return client
}
