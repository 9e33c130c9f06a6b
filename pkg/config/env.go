package config

const EnvPrefix = "REWARDS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "REWARDS_APP_ENV"
	EnvPort               = "REWARDS_APP_PORT"
	EnvDBDSN              = "REWARDS_DB_DSN"
	EnvDBHost             = "REWARDS_DB_HOST"
	EnvDBUser             = "REWARDS_DB_USER"
	EnvDBName             = "REWARDS_DB_NAME"
	EnvRedisURL           = "REWARDS_REDIS_URL"
	EnvJWTSecret          = "REWARDS_JWT_SECRET"
	EnvJWTIssuer          = "REWARDS_JWT_ISSUER"
	EnvUseSQLite          = "REWARDS_USE_SQLITE"
	EnvDefaultPointsPerKg = "REWARDS_DEFAULT_POINTS_PER_KG"
	EnvMaxPointsPerKg     = "REWARDS_MAX_POINTS_PER_KG"
	EnvMaxDonationKg      = "REWARDS_MAX_DONATION_KG"
	EnvOpTimeout          = "REWARDS_OP_TIMEOUT"
	EnvGCPProjectID       = "REWARDS_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
