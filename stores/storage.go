package stores

import (
	"collabroom-server/config"
	"collabroom-server/core"
	"collabroom-server/stores/filesystem"
	"collabroom-server/stores/memory"
	"collabroom-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

func GetStore(cfg config.Config) core.SnapshotStore {
	var store core.SnapshotStore

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store = filesystem.NewSnapshotStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store = sqlite.NewSnapshotStore(cfg.DataSourceName)
	default:
		store = memory.NewSnapshotStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
