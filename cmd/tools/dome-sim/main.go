package main

// cSpell:ignore mbserver Modbus
import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goburrow/serial"
	tcpserver "github.com/tbrandon/mbserver"
	rtuserver "github.com/womat/mbserver"
)

func main() {
	mode := flag.String("mode", "tcp", "tcp or rtu")
	addr := flag.String("addr", getenv("DOME_LISTEN_ADDR", ":1502"), "TCP listen address")
	port := flag.String("port", "/dev/ttyUSB0", "RTU serial port")
	baud := flag.Int("baud", 9600, "RTU baud rate")
	unitId := flag.Uint("unit", 1, "RTU unit id")
	rest := flag.String("rest", getenv("DOME_REST_ADDR", ":8080"), "REST API address, empty disables it")
	tick := flag.Duration("tick", 100*time.Millisecond, "Simulation step")
	flag.Parse()

	var sim *domeSim
	switch *mode {
	case "tcp":
		srv := tcpserver.NewServer()
		sim = newDomeSim(srv.HoldingRegisters, srv.Coils)
		if err := srv.ListenTCP(*addr); err != nil {
			log.Fatalf("ListenTCP: %v", err)
		}
		defer srv.Close()
		log.Printf("Modbus TCP dome listening on %s", *addr)
	case "rtu":
		s := rtuserver.NewServer()
		id := uint8(*unitId)
		if id != 1 {
			if err := s.NewDevice(id); err != nil {
				log.Fatalf("NewDevice(%d): %v", id, err)
			}
		}
		dev := s.Devices[id]
		sim = newDomeSim(dev.HoldingRegisters, dev.Coils)

		p, err := serial.Open(&serial.Config{
			Address:  *port,
			BaudRate: *baud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  2 * time.Second,
		})
		if err != nil {
			log.Fatalf("serial open %s: %v", *port, err)
		}
		defer p.Close()
		if err := s.ListenRTU(p); err != nil {
			log.Fatalf("listenRTU: %v", err)
		}
		log.Printf("RTU dome ready on %s (unit %d)", *port, id)
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	stop := make(chan struct{})
	go sim.run(stop, *tick)
	if *rest != "" {
		go startRestAPI(*rest, sim)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(stop)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
