package stores

import (
	"os"

	"github.com/sirupsen/logrus"

	"whiteboard-server/core"
	"whiteboard-server/stores/memory"
	"whiteboard-server/stores/mongodb"
	"whiteboard-server/stores/sqlite"
)

// GetStore selects the room store backend from STORAGE_TYPE. The in-memory
// store is the default; it keeps nothing across restarts and exists for
// development and tests.
func GetStore() core.RoomStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.RoomStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "mongodb":
		uri := os.Getenv("MONGODB_URI")
		if uri == "" {
			uri = "mongodb://localhost:27017"
		}
		database := os.Getenv("MONGODB_DATABASE")
		if database == "" {
			database = "whiteboard"
		}
		storageField["uri"] = uri
		storageField["database"] = database

		mongoStore, err := mongodb.NewRoomStore(uri, database)
		if err != nil {
			logrus.WithError(err).Fatal("failed to initialize MongoDB store")
		}
		store = mongoStore
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewRoomStore(dataSourceName)
	default:
		store = memory.NewRoomStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
