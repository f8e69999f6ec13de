package config

import (
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/gommon/log"
)

type Config struct {
	HttpHost      string        `envconfig:"HTTP_HOST" required:"false" default:""`
	HttpPort      int           `envconfig:"HTTP_PORT" required:"false" default:"8001"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" required:"true"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" required:"false" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" required:"false" default:"0"`
	MaxWorkers    int           `envconfig:"MAX_WORKERS" required:"false" default:"16"`
	RoomTTL       time.Duration `envconfig:"ROOM_TTL" required:"false" default:"5m"`
	ReapInterval  time.Duration `envconfig:"REAP_INTERVAL" required:"false" default:"30s"`
	ExecTimeout   time.Duration `envconfig:"EXEC_TIMEOUT" required:"false" default:"10s"`
}

var (
	c    Config
	once sync.Once
)

func Get() *Config {
	once.Do(func() {
		err := envconfig.Process("", &c)
		if err != nil {
			log.Fatal(err)
		}
	})
	return &c
}
