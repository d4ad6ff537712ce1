package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	rs "github.com/Clouded-Sabre/rawsocket/lib"

	"github.com/Clouded-Sabre/tcpcore/capture"
	"github.com/Clouded-Sabre/tcpcore/config"
	"github.com/Clouded-Sabre/tcpcore/filter"
	"github.com/Clouded-Sabre/tcpcore/lib"
	"github.com/Clouded-Sabre/tcpcore/rawnet"
)

func main() {
	configFile := flag.String("config", "config.yaml", "YAML configuration file")
	serviceIP := flag.String("serviceIP", "", "Service IP address to listen on (overrides listen_ip)")
	port := flag.Int("port", 0, "Service port (overrides listen_port)")
	flag.Parse()

	var err error
	config.AppConfig, err = config.ReadConfig(*configFile)
	if err != nil {
		log.Fatalln("Configurtion file error:", err)
	}
	if *serviceIP != "" {
		config.AppConfig.ListenIP = *serviceIP
	}
	if *port != 0 {
		config.AppConfig.ListenPort = *port
	}
	if err := config.AppConfig.Validate(); err != nil {
		log.Fatalln("Configurtion error:", err)
	}

	rscore, err := rs.NewRSCore(rs.NewDefaultRsConfig())
	if err != nil {
		log.Fatal("Failed to create rawsocket core. exit!")
	}
	defer rscore.Close()

	rstFilter, err := filter.NewFilter(config.AppConfig.FilterIdentifier)
	if err != nil {
		log.Fatal("Error creating filter object:", err)
	}
	if err := rstFilter.AddTcpServerFiltering(config.AppConfig.ListenIP, config.AppConfig.ListenPort); err != nil {
		log.Fatal("Error adding RST filtering rule:", err)
	}
	defer func() {
		if err := rstFilter.FinishFiltering(); err != nil {
			log.Println("Error removing filtering rules:", err)
		}
	}()

	rawAdapter, err := rawnet.NewRawAdapter(rawnet.NewConfig(config.AppConfig), &rscore)
	if err != nil {
		log.Fatalln("Raw socket error:", err)
	}
	defer rawAdapter.Close()

	var adapter lib.Adapter = rawAdapter
	if config.AppConfig.CaptureFile != "" {
		captureFile, err := os.Create(config.AppConfig.CaptureFile)
		if err != nil {
			log.Fatalln("Capture file error:", err)
		}
		defer captureFile.Close()
		adapter, err = capture.NewRecorder(rawAdapter, captureFile, rawAdapter.LocalAddr())
		if err != nil {
			log.Fatalln("Capture error:", err)
		}
		log.Printf("Capturing segments to %s\n", config.AppConfig.CaptureFile)
	}

	listenerConfig := lib.NewListenerConfig(config.AppConfig)
	listener, err := lib.NewListener(adapter, uint16(config.AppConfig.ListenPort), listenerConfig)
	if err != nil {
		log.Fatalln("Listen error:", err)
	}
	defer listener.Close()

	listener.OnAccept(func(conn *lib.Connection) {
		log.Printf("New connection from %s:%d\n", conn.ID().SrcAddr, conn.ID().SrcPort)
		session := newEchoSession(listenerConfig.MSS)
		conn.OnReceive(func(c *lib.Connection, payload []byte) {
			session.handle(c, payload)
		})
	})

	log.Printf("Echo server listening on %s:%d\n", config.AppConfig.ListenIP, config.AppConfig.ListenPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down echo server")
}
