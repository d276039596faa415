//go:build !cgo

package sqlite

import (
	stdlog "log"

	"whiteboard-server/core"
)

// CGOEnabled reports whether the sqlite store is built with cgo support.
// The go-sqlite3 driver requires cgo; tests skip when it's unavailable.
const CGOEnabled = false

func NewRoomStore(dataSourceName string) core.RoomStore {
	stdlog.Fatal("sqlite storage requires a cgo-enabled build")
	return nil
}
