package constants

import "time"

// Store backends selectable in configuration.
const (
	BackendSurrealDB = "surrealdb"
	BackendPostgres  = "postgres"
	BackendMySQL     = "mysql"
	BackendMemory    = "memory"
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	DefaultSurrealDBURL    = "ws://localhost:8000"
	DefaultNamespace       = "curator"
	DefaultDatabase        = "curator"
	DefaultServerPort      = "8080"
	DefaultPollInterval    = 5 * time.Second
	DefaultAuditInterval   = 10 * time.Minute
	DefaultShutdownTimeout = 5 * time.Second
)
