package config

import (
	"context"
	"time"

	"PChat/data/database/mgo/mongoutil"
	"PChat/logger"
	redis "PChat/service/storage/redis"
	"PChat/tools"
	ids "PChat/tools/ids"
	"PChat/tools/security"
)

// AppConfig carries the whole process configuration. Defaults suit local
// development; every field can be overridden through the environment.
type AppConfig struct {
	Addr     string // HTTP/WS listen address
	NodeID   int64  // snowflake node id
	MaxConns int    // cap on concurrent accepted connections

	MongoURI      string
	MongoDatabase string
	MongoUsername string
	MongoPassword string
	MongoMaxPool  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	TokenTTL  time.Duration

	TypingExpiry       time.Duration // typing entry lifetime
	SweepInterval      time.Duration // registry typing sweep period
	RevalidateInterval time.Duration // per-connection token revalidation period

	TrackerTTL   time.Duration // delivery record lifetime
	TrackerMax   int           // max tracked delivery records
	TrackerSweep time.Duration // tracker eviction period
}

var Global = AppConfig{
	Addr:     ":8080",
	NodeID:   100,
	MaxConns: 4096,

	MongoURI:      "mongodb://localhost:27017",
	MongoDatabase: "pchat",
	MongoMaxPool:  20,

	RedisAddr: "127.0.0.1:6379",
	RedisDB:   0,

	// dev only, override through JWT_SECRET in any real deployment
	JWTSecret: "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=",
	TokenTTL:  2 * time.Hour,

	TypingExpiry:       5 * time.Second,
	SweepInterval:      10 * time.Second,
	RevalidateInterval: 15 * time.Minute,

	TrackerTTL:   24 * time.Hour,
	TrackerMax:   10000,
	TrackerSweep: 10 * time.Minute,
}

// Load applies environment overrides onto Global.
func Load() {
	Global.Addr = tools.GetEnv("ADDR", Global.Addr)
	Global.NodeID = int64(tools.GetEnvInt("NODE_ID", int(Global.NodeID)))
	Global.MaxConns = tools.GetEnvInt("MAX_CONNS", Global.MaxConns)

	Global.MongoURI = tools.GetEnv("MONGO_URI", Global.MongoURI)
	Global.MongoDatabase = tools.GetEnv("MONGO_DB", Global.MongoDatabase)
	Global.MongoUsername = tools.GetEnv("MONGO_USERNAME", Global.MongoUsername)
	Global.MongoPassword = tools.GetEnv("MONGO_PASSWORD", Global.MongoPassword)
	Global.MongoMaxPool = tools.GetEnvInt("MONGO_MAX_POOL", Global.MongoMaxPool)

	Global.RedisAddr = tools.GetEnv("REDIS_ADDR", Global.RedisAddr)
	Global.RedisPassword = tools.GetEnv("REDIS_PASSWORD", Global.RedisPassword)
	Global.RedisDB = tools.GetEnvInt("REDIS_DB", Global.RedisDB)

	Global.JWTSecret = tools.GetEnv("JWT_SECRET", Global.JWTSecret)
	Global.TokenTTL = tools.GetEnvDuration("TOKEN_TTL", Global.TokenTTL)

	Global.TypingExpiry = tools.GetEnvDuration("TYPING_EXPIRY", Global.TypingExpiry)
	Global.SweepInterval = tools.GetEnvDuration("SWEEP_INTERVAL", Global.SweepInterval)
	Global.RevalidateInterval = tools.GetEnvDuration("REVALIDATE_INTERVAL", Global.RevalidateInterval)

	Global.TrackerTTL = tools.GetEnvDuration("TRACKER_TTL", Global.TrackerTTL)
	Global.TrackerMax = tools.GetEnvInt("TRACKER_MAX", Global.TrackerMax)
	Global.TrackerSweep = tools.GetEnvDuration("TRACKER_SWEEP", Global.TrackerSweep)
}

func GetJwtSecret() []byte {
	return []byte(Global.JWTSecret)
}

// JWTOptions builds the signing/verification options from Global.
func JWTOptions() security.Options {
	opts := security.DefaultOptions(GetJwtSecret())
	opts.TTL = Global.TokenTTL
	return opts
}

func ConfigIds() {
	logger.Infof("configuring id generator, node=%d", Global.NodeID)
	ids.SetNodeID(Global.NodeID)
}

func ConfigRedis() error {
	return redis.InitRedis(redis.Config{
		Addr:     Global.RedisAddr,
		Password: Global.RedisPassword,
		DB:       Global.RedisDB,
	})
}

// ConfigMongo connects to MongoDB and returns the shared client.
func ConfigMongo(ctx context.Context) (*mongoutil.Client, error) {
	cfg := &mongoutil.Config{
		Uri:         Global.MongoURI,
		Database:    Global.MongoDatabase,
		Username:    Global.MongoUsername,
		Password:    Global.MongoPassword,
		MaxPoolSize: Global.MongoMaxPool,
	}
	return mongoutil.NewMongoDB(ctx, cfg)
}
