// echoclient drives the echo server through the kernel's own TCP stack, so every
// exchange checks interoperability with a real TCP peer.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	sourceIP := flag.String("sourceIP", "127.0.0.4", "Source IP address")
	serverIP := flag.String("serverIP", "127.0.0.2", "Server IP address")
	serverPort := flag.Int("serverPort", 8901, "Server port")
	packetInterval := flag.Duration("interval", 500*time.Millisecond, "Interval between packets (e.g., 500ms, 1s)")
	flag.Parse()

	dialer := net.Dialer{
		LocalAddr: &net.TCPAddr{IP: net.ParseIP(*sourceIP)},
		Timeout:   5 * time.Second,
	}
	conn, err := dialer.Dial("tcp", net.JoinHostPort(*serverIP, fmt.Sprint(*serverPort)))
	if err != nil {
		fmt.Println("Error connecting:", err)
		return
	}
	fmt.Println("Echo client connected to server!")
	fmt.Printf("Sending packets at %v interval (press Ctrl+C to exit)...\n", *packetInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	successCount := 0
	failureCount := 0
	packetCount := 0
	buffer := make([]byte, 1500)

	ticker := time.NewTicker(*packetInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-sigChan:
			break loop
		case <-ticker.C:
			packetCount++
			message := fmt.Sprintf("Echo message %d", packetCount)

			log.Printf("[%d] Sending: %s\n", packetCount, message)
			if _, err := conn.Write([]byte(message)); err != nil {
				log.Printf("[%d] Error writing: %v\n", packetCount, err)
				failureCount++
				break loop
			}

			conn.SetReadDeadline(time.Now().Add(*packetInterval + 100*time.Millisecond))
			n, err := io.ReadFull(conn, buffer[:len(message)])
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					log.Printf("[%d] Read timeout (no response yet), continuing...\n", packetCount)
					failureCount++
					continue
				}
				if err == io.EOF {
					log.Println("Server closed the connection.")
				} else {
					log.Printf("[%d] Error reading: %v\n", packetCount, err)
				}
				failureCount++
				break loop
			}

			response := string(buffer[:n])
			if response == message {
				log.Printf("[%d] Echo match\n", packetCount)
				successCount++
			} else {
				log.Printf("[%d] Echo mismatch! Expected: %s, Got: %s\n", packetCount, message, response)
				failureCount++
			}
		}
	}

	fmt.Printf("\n=== Echo Client Statistics ===\n")
	fmt.Printf("Total packets sent: %d\n", packetCount)
	fmt.Printf("Successful echoes: %d\n", successCount)
	fmt.Printf("Failed echoes: %d\n", failureCount)
	if packetCount > 0 {
		fmt.Printf("Success rate: %.1f%%\n", float64(successCount)/float64(packetCount)*100)
	}
	conn.Close()
}
