package config

const (
	EnvPrefix = "FULFILLMENT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StorageDriverLocal = "local"
	StorageDriverGCS   = "gcs"
)

const (
	EnvAppEnv         = "FULFILLMENT_APP_ENV"
	EnvPort           = "FULFILLMENT_APP_PORT"
	EnvDBDSN          = "FULFILLMENT_DB_DSN"
	EnvDBHost         = "FULFILLMENT_DB_HOST"
	EnvDBUser         = "FULFILLMENT_DB_USER"
	EnvDBName         = "FULFILLMENT_DB_NAME"
	EnvDBPassword     = "FULFILLMENT_DB_PASSWORD"
	EnvRedisURL       = "FULFILLMENT_REDIS_URL"
	EnvJWTSecret      = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer      = "FULFILLMENT_JWT_ISSUER"
	EnvStorageDriver  = "FULFILLMENT_STORAGE_DRIVER"
	EnvPrintLease     = "FULFILLMENT_PRINT_LEASE_TIMEOUT"
	EnvPrintToken     = "FULFILLMENT_PRINT_WORKER_TOKEN"
	EnvDeliverableMax = "FULFILLMENT_DELIVERABLES_MAX_ATTEMPTS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
