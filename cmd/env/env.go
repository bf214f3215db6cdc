package env

const (
	// Prefix is the prefix of every fxsnap environment variable.
	// Flags map to FXSNAP_<FLAG>, e.g. FXSNAP_LISTEN
	Prefix = "FXSNAP"

	// DBURLSuffix is the suffix of the Postgres connection URL variable
	DBURLSuffix = "_DB_URL"

	// RedisURLSuffix is the suffix of the Redis URL variable,
	// which overrides the configured notify URL
	RedisURLSuffix = "_REDIS_URL"
)
