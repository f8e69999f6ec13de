package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/go-redis/redis/v7"
	"github.com/labstack/gommon/log"

	"intervu.me/api"
	"intervu.me/config"
	"intervu.me/pkg/msgbroker"
	"intervu.me/pkg/runner"
	"intervu.me/pkg/websocket"
	sig "intervu.me/signal"
	"intervu.me/storage"
)

func main() {
	// APP configuration
	c := config.Get()

	// Redis client
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	err := rdb.Ping().Err()
	if err != nil {
		log.Fatal(err)
	}

	// Message broker
	mb := msgbroker.NewRedisBroker(rdb)

	// Room store and coordinator
	rooms := storage.NewStore()
	coordinator := sig.New(
		rooms,
		websocket.NewChannels(),
		mb,
		workerpool.New(c.MaxWorkers),
		runner.New(c.ExecTimeout),
	)

	// API
	a := api.New(c, storage.NewStats(rdb), rooms, coordinator)

	go func() {
		// Starting API
		if err := a.Start(); err != nil {
			log.Warn(err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, os.Kill)
	// waiting for signals
	quit := <-signals
	log.Infof("signal %s received, stopping server...", quit)
	// Stopping server
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	if err = a.Close(ctx); err != nil {
		log.Error(err)
	}
	cancel()

	if err = mb.Close(); err != nil {
		log.Error(err)
	}
	if err = rdb.Close(); err != nil {
		log.Error(err)
	}
}
