package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fisaks/mountlink/internal/logging"
	"github.com/fisaks/mountlink/internal/mountsim"
)

func main() {
	addr := flag.String("addr", ":3490", "TCP listen address")
	slew := flag.Duration("slew", 5*time.Second, "Time a slew takes")
	clockOffset := flag.Duration("clock-offset", 0, "Offset of the mount clock against local time")
	lon := flag.Float64("lon", 0, "Site longitude, east positive (default keeps the built-in site)")
	lat := flag.Float64("lat", 0, "Site latitude (default keeps the built-in site)")
	flag.Parse()

	st := mountsim.DefaultState()
	st.SlewTime = *slew
	st.ClockOffset = *clockOffset
	if *lon != 0 || *lat != 0 {
		st.Longitude, st.Latitude = *lon, *lat
	}

	srv := mountsim.New(st)
	if err := srv.Start(*addr); err != nil {
		logging.Fatal("Mount simulator listen failed", "addr", *addr, "error", err)
	}
	defer srv.Close()
	logging.Info("Mount simulator listening", "addr", srv.Addr().String(), "product", st.Product)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("Shutting down", "signal", s)
}
