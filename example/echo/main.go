//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"flag"
	"strconv"
	"time"

	"github.com/Allenxuxu/polling/log"
	"github.com/Allenxuxu/polling/metrics"
)

func main() {
	var (
		port      int
		loops     int
		idle      time.Duration
		reusePort bool
		debug     bool
	)

	flag.IntVar(&port, "port", 1833, "server port")
	flag.IntVar(&loops, "loops", 4, "num loops")
	flag.DurationVar(&idle, "idle", 30*time.Second, "close connections idle for this long")
	flag.BoolVar(&reusePort, "reuseport", false, "set SO_REUSEPORT")
	flag.BoolVar(&debug, "debug", false, "debug logging")
	flag.Parse()

	if debug {
		log.SetLevel(log.LevelDebug)
	}

	go metrics.MustRun("", ":9091")

	s, err := newServer(":"+strconv.Itoa(port), loops, idle, reusePort)
	if err != nil {
		panic(err)
	}
	defer s.Close()

	s.accept.RunEvery(2*time.Second, func() {
		var n int64
		for _, el := range s.workers {
			n += el.ConnectionCount()
		}
		log.Info("connections :", n)
	})

	log.Infof("echo server listening on %s", s.Addr())
	s.Start()
}
